package domain

import "time"

// Account is a registered user. PasswordHash never leaves the process.
type Account struct {
	ID           string          `json:"_id"`
	Email        string          `json:"email"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"`
	Settings     AccountSettings `json:"settings"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Board is a named collection of Workflows owned by one Account.
type Board struct {
	ID        string        `json:"_id"`
	OwnerID   string        `json:"owner"`
	Title     string        `json:"title"`
	Settings  BoardSettings `json:"settings"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Workflow is a column of a Board. Its Cards are stored by value.
type Workflow struct {
	ID        string    `json:"_id"`
	BoardID   string    `json:"board"`
	Title     string    `json:"title"`
	Cards     Cards     `json:"cards"`
	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a copy whose settings share no pointers with a.
func (a Account) Clone() Account {
	a.Settings = a.Settings.Clone()
	return a
}

// Clone returns a copy whose settings share no pointers with b.
func (b Board) Clone() Board {
	b.Settings = b.Settings.Clone()
	return b
}

// Clone returns a copy with its own card slice.
func (w Workflow) Clone() Workflow {
	w.Cards = w.Cards.Clone()
	return w
}
