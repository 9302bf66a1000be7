package domain

// MoveKind distinguishes column drags from card drags.
type MoveKind int

const (
	// MoveColumn reorders whole columns within the board.
	MoveColumn MoveKind = iota
	// MoveCard repositions a card, possibly across columns.
	MoveCard
)

// Move describes a single drag gesture in container/index terms. For column
// moves the container fields are unused.
type Move struct {
	Kind         MoveKind
	SourceColumn string
	SourceIndex  int
	DestColumn   string
	DestIndex    int
}

// ColumnWrite is one document write the persistence adapter must issue.
// Order is set when only the column's sort key changed; Cards is set when the
// card sequence changed. A write never carries both for the moves this
// package computes.
type ColumnWrite struct {
	ColumnID string
	Order    *int
	Cards    *[]Card
}

// Reorder computes the board state after a move, together with the minimal
// set of column writes needed to persist it. It never mutates its input.
//
// The returned bool reports whether anything changed: no-op moves (same
// container, same index) and malformed moves (unknown container, source
// index out of range) return the input slice untouched with no writes, so
// the caller neither re-renders nor persists. Destination indexes are
// clamped to the valid insert range instead of rejected, matching drag
// targets that land past the end of a list.
func Reorder(cols Columns, mv Move) (Columns, []ColumnWrite, bool) {
	switch mv.Kind {
	case MoveColumn:
		return reorderColumns(cols, mv)
	case MoveCard:
		return reorderCards(cols, mv)
	default:
		return cols, nil, false
	}
}

func reorderColumns(cols Columns, mv Move) (Columns, []ColumnWrite, bool) {
	if mv.SourceIndex < 0 || mv.SourceIndex >= len(cols) {
		return cols, nil, false
	}
	dest := clamp(mv.DestIndex, len(cols)-1)
	if dest == mv.SourceIndex {
		return cols, nil, false
	}

	next := cols.Clone()
	moved := next[mv.SourceIndex]
	next = append(next[:mv.SourceIndex], next[mv.SourceIndex+1:]...)
	next = append(next[:dest], append(Columns{moved}, next[dest:]...)...)

	// Dense reassignment: the splice shifts every column between the old and
	// new position, not just the moved one.
	renumbered := next.Renumber()
	writes := []ColumnWrite{}
	for i := range renumbered {
		if next[i].Order != renumbered[i].Order {
			order := renumbered[i].Order
			writes = append(writes, ColumnWrite{ColumnID: renumbered[i].ID, Order: &order})
		}
	}
	if len(writes) == 0 {
		return cols, nil, false
	}
	return renumbered, writes, true
}

func reorderCards(cols Columns, mv Move) (Columns, []ColumnWrite, bool) {
	srcIdx := cols.indexOf(mv.SourceColumn)
	dstIdx := cols.indexOf(mv.DestColumn)
	if srcIdx < 0 || dstIdx < 0 {
		return cols, nil, false
	}
	if mv.SourceIndex < 0 || mv.SourceIndex >= len(cols[srcIdx].Cards) {
		return cols, nil, false
	}

	if srcIdx == dstIdx {
		dest := clamp(mv.DestIndex, len(cols[srcIdx].Cards)-1)
		if dest == mv.SourceIndex {
			return cols, nil, false
		}
		next := cols.Clone()
		cards := next[srcIdx].Cards
		moved := cards[mv.SourceIndex]
		cards = append(cards[:mv.SourceIndex], cards[mv.SourceIndex+1:]...)
		cards = append(cards[:dest], append([]Card{moved}, cards[dest:]...)...)
		next[srcIdx].Cards = cards
		return next, []ColumnWrite{cardsWrite(next[srcIdx])}, true
	}

	// Cross-column transfer: the destination index addresses the
	// destination's current sequence, unaffected by the source removal.
	dest := clamp(mv.DestIndex, len(cols[dstIdx].Cards))
	next := cols.Clone()
	srcCards := next[srcIdx].Cards
	moved := srcCards[mv.SourceIndex]
	next[srcIdx].Cards = append(srcCards[:mv.SourceIndex], srcCards[mv.SourceIndex+1:]...)
	dstCards := next[dstIdx].Cards
	next[dstIdx].Cards = append(dstCards[:dest], append([]Card{moved}, dstCards[dest:]...)...)

	return next, []ColumnWrite{cardsWrite(next[srcIdx]), cardsWrite(next[dstIdx])}, true
}

func cardsWrite(col Column) ColumnWrite {
	cards := append([]Card(nil), col.Cards...)
	return ColumnWrite{ColumnID: col.ID, Cards: &cards}
}

func clamp(i, max int) int {
	if i < 0 {
		return 0
	}
	if i > max {
		return max
	}
	return i
}
