package domain

import "time"

// Card is a task item embedded in exactly one Workflow. It has no pointer to
// its Workflow; its position in Workflow.Cards is its only location.
type Card struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Cards is the ordered card sequence of a Workflow. Order is the slice order;
// there is no persisted position field. Methods never modify the receiver's
// backing array.
type Cards []Card

// Append returns the sequence with card added at the end.
func (c Cards) Append(card Card) Cards {
	out := make(Cards, len(c), len(c)+1)
	copy(out, c)
	return append(out, card)
}

// Remove drops the first card with the given id. The second result reports
// whether a card was removed; an unknown id leaves the sequence unchanged.
func (c Cards) Remove(id string) (Cards, bool) {
	i := c.Index(id)
	if i < 0 {
		return c.Clone(), false
	}
	out := make(Cards, 0, len(c)-1)
	out = append(out, c[:i]...)
	return append(out, c[i+1:]...), true
}

// Index returns the position of the first card with the given id, or -1.
func (c Cards) Index(id string) int {
	for i := range c {
		if c[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns an independent copy. The result is never nil so it encodes
// as an empty JSON array.
func (c Cards) Clone() Cards {
	out := make(Cards, len(c))
	copy(out, c)
	return out
}
