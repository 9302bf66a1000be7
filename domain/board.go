package domain

import "sort"

// Card is the smallest unit of work on a board. Its identifier is assigned
// client-side at creation and stays stable for the card's lifetime; position
// is implicit in the owning column's card sequence.
type Card struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Column is an ordered, titled container of cards. Order is the sole sort
// key for columns within a board.
type Column struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Order     int    `json:"order"`
	Cards     []Card `json:"cards"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Board is the top-level container owning columns.
type Board struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Columns is a board's column list in display order.
type Columns []Column

// ColumnAt returns the column at the given display index.
func (c Columns) ColumnAt(i int) (Column, bool) {
	if i < 0 || i >= len(c) {
		return Column{}, false
	}
	return c[i], true
}

// CardAt returns the card at the given position within the named column.
func (c Columns) CardAt(columnID string, i int) (Card, bool) {
	col, ok := c.FindColumn(func(col Column) bool { return col.ID == columnID })
	if !ok || i < 0 || i >= len(col.Cards) {
		return Card{}, false
	}
	return col.Cards[i], true
}

// FindColumn returns the first column matching the predicate.
func (c Columns) FindColumn(pred func(Column) bool) (Column, bool) {
	for _, col := range c {
		if pred(col) {
			return col, true
		}
	}
	return Column{}, false
}

// FindCard returns the first card in the named column matching the predicate.
func (c Columns) FindCard(columnID string, pred func(Card) bool) (Card, bool) {
	col, ok := c.FindColumn(func(col Column) bool { return col.ID == columnID })
	if !ok {
		return Card{}, false
	}
	for _, card := range col.Cards {
		if pred(card) {
			return card, true
		}
	}
	return Card{}, false
}

func (c Columns) indexOf(columnID string) int {
	for i := range c {
		if c[i].ID == columnID {
			return i
		}
	}
	return -1
}

// TotalCards counts cards across all columns.
func (c Columns) TotalCards() int {
	n := 0
	for _, col := range c {
		n += len(col.Cards)
	}
	return n
}

// Clone returns a deep copy so callers can mutate freely.
func (c Columns) Clone() Columns {
	out := make(Columns, len(c))
	for i, col := range c {
		out[i] = col
		out[i].Cards = append([]Card(nil), col.Cards...)
	}
	return out
}

// Sorted returns a copy ordered by the persisted Order field. Sorting is
// stable so equal orders keep their incoming sequence.
func (c Columns) Sorted() Columns {
	out := c.Clone()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Renumber reassigns every column's Order to its current index. Applying it
// twice yields the same result as applying it once.
func (c Columns) Renumber() Columns {
	out := c.Clone()
	for i := range out {
		out[i].Order = i
	}
	return out
}
