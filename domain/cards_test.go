package domain

import "testing"

func TestCardsAppendDoesNotAlias(t *testing.T) {
	base := make(Cards, 1, 4)
	base[0] = Card{ID: "a"}

	x := base.Append(Card{ID: "x"})
	y := base.Append(Card{ID: "y"})
	if x[1].ID != "x" || y[1].ID != "y" {
		t.Fatalf("appends share a backing array: %v %v", x, y)
	}
	if len(base) != 1 {
		t.Fatalf("receiver modified: %v", base)
	}
}

func TestCardsRemove(t *testing.T) {
	c := Cards{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	out, ok := c.Remove("b")
	if !ok || len(out) != 2 || out[0].ID != "a" || out[1].ID != "c" {
		t.Fatalf("unexpected result %v %v", out, ok)
	}
	if c[1].ID != "b" {
		t.Fatalf("receiver modified: %v", c)
	}

	out, ok = c.Remove("zzz")
	if ok || len(out) != 3 {
		t.Fatalf("unknown id changed the sequence: %v", out)
	}
}

func TestCardsCloneNeverNil(t *testing.T) {
	var c Cards
	if c.Clone() == nil {
		t.Fatalf("clone of nil cards must be empty, not nil")
	}
}
