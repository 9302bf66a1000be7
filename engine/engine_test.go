package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/xptea/TaskPilot/domain"
)

func testColumns() domain.Columns {
	return domain.Columns{
		{ID: "colA", Title: "Todo", Order: 0, Cards: []domain.Card{{ID: "c1", Title: "one"}, {ID: "c2", Title: "two"}}},
		{ID: "colB", Title: "Doing", Order: 1, Cards: []domain.Card{{ID: "c3", Title: "three"}}},
		{ID: "colC", Title: "Done", Order: 2, Cards: []domain.Card{}},
	}
}

func newTestEngine(t *testing.T, store *fakeStore) *Engine {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return New("board-1", "user-1", testColumns(), store, logger)
}

func TestMoveCardAppliesOptimisticallyAndPersists(t *testing.T) {
	store := &fakeStore{}
	eng := newTestEngine(t, store)

	if err := eng.MoveCard("colA", 0, "colB", 1); err != nil {
		t.Fatalf("move card: %v", err)
	}

	cols := eng.Columns()
	if ids := cardIDs(cols, "colA"); len(ids) != 1 || ids[0] != "c2" {
		t.Fatalf("unexpected source cards: %v", ids)
	}
	if ids := cardIDs(cols, "colB"); len(ids) != 2 || ids[1] != "c1" {
		t.Fatalf("unexpected dest cards: %v", ids)
	}

	batch := store.lastBatch()
	if len(batch) != 2 {
		t.Fatalf("cross-column move must persist exactly 2 writes, got %d", len(batch))
	}
	for _, w := range batch {
		if w.Cards == nil || w.Order != nil {
			t.Fatalf("card move writes must carry cards only: %+v", w)
		}
	}

	if len(store.events) != 1 || store.events[0].Op != "move-card" {
		t.Fatalf("expected one move-card change event, got %+v", store.events)
	}
	if store.events[0].BoardID != "board-1" || store.events[0].UserID != "user-1" {
		t.Fatalf("change event misses identity: %+v", store.events[0])
	}
}

func TestMoveColumnPersistsOrderOnlyWrites(t *testing.T) {
	store := &fakeStore{}
	eng := newTestEngine(t, store)

	if err := eng.MoveColumn(0, 2); err != nil {
		t.Fatalf("move column: %v", err)
	}

	cols := eng.Columns()
	if cols[0].ID != "colB" || cols[1].ID != "colC" || cols[2].ID != "colA" {
		t.Fatalf("unexpected column order: %v", columnIDs(cols))
	}

	batch := store.lastBatch()
	if len(batch) != 3 {
		t.Fatalf("expected 3 order writes, got %d", len(batch))
	}
	for _, w := range batch {
		if w.Order == nil || w.Cards != nil {
			t.Fatalf("column move writes must carry order only: %+v", w)
		}
	}
}

func TestMoveNoOpSkipsStorage(t *testing.T) {
	store := &fakeStore{}
	eng := newTestEngine(t, store)

	if err := eng.MoveColumn(1, 1); err != nil {
		t.Fatalf("no-op column move: %v", err)
	}
	if err := eng.MoveCard("colA", 0, "colA", 0); err != nil {
		t.Fatalf("no-op card move: %v", err)
	}

	if store.batchCount() != 0 {
		t.Fatalf("no-op moves must not touch storage, got %d batches", store.batchCount())
	}
	if len(store.events) != 0 {
		t.Fatalf("no-op moves must not emit change events, got %d", len(store.events))
	}
}

func TestAddColumnAssignsDefaultsAndTailOrder(t *testing.T) {
	store := &fakeStore{}
	eng := newTestEngine(t, store)

	col, err := eng.AddColumn("")
	if err != nil {
		t.Fatalf("add column: %v", err)
	}
	if col.Title != "New Column" {
		t.Fatalf("expected default title, got %q", col.Title)
	}
	if col.ID == "" || col.CreatedAt == "" {
		t.Fatalf("column misses generated fields: %+v", col)
	}
	if col.Order != 3 {
		t.Fatalf("new column must land at the tail, got order %d", col.Order)
	}
	if col.Cards == nil || len(col.Cards) != 0 {
		t.Fatalf("new column must start with empty cards: %#v", col.Cards)
	}

	cols := eng.Columns()
	if len(cols) != 4 || cols[3].ID != col.ID {
		t.Fatalf("column not appended to state: %v", columnIDs(cols))
	}
	if len(store.inserted) != 1 || store.inserted[0].ID != col.ID {
		t.Fatalf("column not persisted: %+v", store.inserted)
	}
}

func TestAddColumnAfterDeleteKeepsOrdersUnique(t *testing.T) {
	store := &fakeStore{}
	eng := newTestEngine(t, store)

	if err := eng.DeleteColumn("colB"); err != nil {
		t.Fatalf("delete column: %v", err)
	}

	// Orders are now 0 and 2; the new column must not reuse 2.
	col, err := eng.AddColumn("Review")
	if err != nil {
		t.Fatalf("add column: %v", err)
	}
	if col.Order != 3 {
		t.Fatalf("new column must outrank every remaining order, got %d", col.Order)
	}

	seen := map[int]string{}
	for _, c := range eng.Columns() {
		if other, dup := seen[c.Order]; dup {
			t.Fatalf("order %d shared by columns %s and %s", c.Order, other, c.ID)
		}
		seen[c.Order] = c.ID
	}
}

func TestAddCardDefaultsTitle(t *testing.T) {
	store := &fakeStore{}
	eng := newTestEngine(t, store)

	card, err := eng.AddCard("colC", "", "")
	if err != nil {
		t.Fatalf("add card: %v", err)
	}
	if card.Title != "New Card" || card.ID == "" {
		t.Fatalf("unexpected card defaults: %+v", card)
	}

	batch := store.lastBatch()
	if len(batch) != 1 || batch[0].ColumnID != "colC" || batch[0].Cards == nil {
		t.Fatalf("expected single cards write for colC, got %+v", batch)
	}
	if got := *batch[0].Cards; len(got) != 1 || got[0].ID != card.ID {
		t.Fatalf("persisted cards mismatch: %+v", got)
	}
}

func TestAddCardUnknownColumn(t *testing.T) {
	store := &fakeStore{}
	eng := newTestEngine(t, store)

	if _, err := eng.AddCard("nope", "x", ""); !errors.Is(err, domain.ErrColumnNotFound) {
		t.Fatalf("expected ErrColumnNotFound, got %v", err)
	}
	if store.batchCount() != 0 {
		t.Fatal("failed validation must not reach storage")
	}
}

func TestEditCardPatchesOnlyGivenFields(t *testing.T) {
	store := &fakeStore{}
	eng := newTestEngine(t, store)

	title := "renamed"
	if err := eng.EditCard("colA", "c1", &title, nil); err != nil {
		t.Fatalf("edit card: %v", err)
	}

	card, ok := eng.Columns().CardAt("colA", 0)
	if !ok {
		t.Fatal("card vanished")
	}
	if card.Title != "renamed" || card.Description != "" {
		t.Fatalf("unexpected card after patch: %+v", card)
	}

	if err := eng.EditCard("colA", "c1", nil, nil); err != nil {
		t.Fatalf("empty patch: %v", err)
	}
	if store.batchCount() != 1 {
		t.Fatalf("empty patch must not persist, got %d batches", store.batchCount())
	}
}

func TestDeleteCardMissing(t *testing.T) {
	store := &fakeStore{}
	eng := newTestEngine(t, store)

	if err := eng.DeleteCard("colA", "ghost"); !errors.Is(err, domain.ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}
	if store.batchCount() != 0 {
		t.Fatal("missing card must not reach storage")
	}
}

func TestRenameAndDeleteColumn(t *testing.T) {
	store := &fakeStore{}
	eng := newTestEngine(t, store)

	if err := eng.RenameColumn("colB", "In Review"); err != nil {
		t.Fatalf("rename column: %v", err)
	}
	if cols := eng.Columns(); cols[1].Title != "In Review" {
		t.Fatalf("rename not applied: %+v", cols[1])
	}
	if len(store.renamed) != 1 || store.renamed[0] != "colB=In Review" {
		t.Fatalf("rename not persisted: %v", store.renamed)
	}

	if err := eng.DeleteColumn("colB"); err != nil {
		t.Fatalf("delete column: %v", err)
	}
	if ids := columnIDs(eng.Columns()); len(ids) != 2 || ids[0] != "colA" || ids[1] != "colC" {
		t.Fatalf("delete not applied: %v", ids)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "colB" {
		t.Fatalf("delete not persisted: %v", store.deleted)
	}

	if err := eng.RenameColumn("colB", "x"); !errors.Is(err, domain.ErrColumnNotFound) {
		t.Fatalf("expected ErrColumnNotFound after delete, got %v", err)
	}
}

func TestPersistFailureKeepsOptimisticState(t *testing.T) {
	store := &fakeStore{
		commitBatchFn: func(context.Context, string, []domain.ColumnWrite) error {
			return errStoreDown
		},
	}
	eng := newTestEngine(t, store)

	err := eng.MoveCard("colA", 0, "colB", 0)
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected store error surfaced, got %v", err)
	}

	// The optimistic result stays visible despite the failed commit.
	if ids := cardIDs(eng.Columns(), "colB"); len(ids) != 2 || ids[0] != "c1" {
		t.Fatalf("optimistic state rolled back: %v", ids)
	}

	select {
	case f := <-eng.Failures():
		if f.Op != "move-card" || !errors.Is(f.Err, errStoreDown) {
			t.Fatalf("unexpected failure notification: %+v", f)
		}
	default:
		t.Fatal("expected a failure notification")
	}

	if len(store.events) != 0 {
		t.Fatal("failed commit must not announce a change event")
	}
}

func columnIDs(cols domain.Columns) []string {
	ids := make([]string, len(cols))
	for i, c := range cols {
		ids[i] = c.ID
	}
	return ids
}

func cardIDs(cols domain.Columns, columnID string) []string {
	for _, c := range cols {
		if c.ID != columnID {
			continue
		}
		ids := make([]string, len(c.Cards))
		for i, card := range c.Cards {
			ids[i] = card.ID
		}
		return ids
	}
	return nil
}
