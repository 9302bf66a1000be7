package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/xptea/TaskPilot/domain"
)

// Store is the persistence surface the engine writes through.
type Store interface {
	FetchColumns(ctx context.Context, boardID string) (domain.Columns, error)
	InsertColumn(ctx context.Context, boardID string, col domain.Column) error
	UpdateColumnTitle(ctx context.Context, boardID, columnID, title string) error
	DeleteColumn(ctx context.Context, boardID, columnID string) error
	CommitBatch(ctx context.Context, boardID string, writes []domain.ColumnWrite) error
	EnqueueChange(ctx context.Context, ev domain.ChangeEvent) error
}

// Failure reports a persistence error for an already-applied optimistic
// mutation. Local state is kept; the next authoritative snapshot restores
// the store's last-known-good value.
type Failure struct {
	Op   string
	Err  error
	Time time.Time
}

const (
	defaultColumnTitle = "New Column"
	defaultCardTitle   = "New Card"

	failureBuffer = 16
)

// Engine owns one board session's column state. It applies every mutation
// optimistically and synchronously, then persists asynchronously; only the
// engine itself and snapshot reconciliation write the state.
type Engine struct {
	boardID string
	userID  string
	store   Store
	logger  *log.Logger

	mu   sync.Mutex
	cols domain.Columns

	failures chan Failure
}

// New creates an engine seeded with the given column snapshot.
func New(boardID, userID string, cols domain.Columns, store Store, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Engine{
		boardID:  boardID,
		userID:   userID,
		store:    store,
		logger:   logger,
		cols:     cols.Sorted(),
		failures: make(chan Failure, failureBuffer),
	}
}

// BoardID returns the board this engine owns.
func (e *Engine) BoardID() string { return e.boardID }

// Columns returns a copy of the current, possibly-optimistic column state.
func (e *Engine) Columns() domain.Columns {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cols.Clone()
}

// Failures exposes persistence failures for already-applied mutations.
func (e *Engine) Failures() <-chan Failure { return e.failures }

// MoveColumn reorders the board's columns. No-op and malformed moves return
// nil without touching state or storage.
func (e *Engine) MoveColumn(sourceIndex, destIndex int) error {
	mv := domain.Move{Kind: domain.MoveColumn, SourceIndex: sourceIndex, DestIndex: destIndex}
	return e.applyMove("move-column", mv)
}

// MoveCard repositions a card, possibly transferring it to another column.
// Cross-column transfers persist both card sequences in one atomic batch.
func (e *Engine) MoveCard(sourceColumnID string, sourceIndex int, destColumnID string, destIndex int) error {
	mv := domain.Move{
		Kind:         domain.MoveCard,
		SourceColumn: sourceColumnID,
		SourceIndex:  sourceIndex,
		DestColumn:   destColumnID,
		DestIndex:    destIndex,
	}
	return e.applyMove("move-card", mv)
}

func (e *Engine) applyMove(op string, mv domain.Move) error {
	e.mu.Lock()
	next, writes, changed := domain.Reorder(e.cols, mv)
	if !changed {
		e.mu.Unlock()
		return nil
	}
	e.cols = next
	e.mu.Unlock()

	return e.persist(op, e.batchCommit(op, writes))
}

// AddColumn appends a new column at the end of the board. Its order is one
// past the current maximum, so gaps left by deleted columns never yield a
// duplicate sort key.
func (e *Engine) AddColumn(title string) (domain.Column, error) {
	if title == "" {
		title = defaultColumnTitle
	}

	e.mu.Lock()
	order := 0
	for i := range e.cols {
		if e.cols[i].Order >= order {
			order = e.cols[i].Order + 1
		}
	}
	col := domain.Column{
		ID:        uuid.NewString(),
		Title:     title,
		Order:     order,
		Cards:     []domain.Card{},
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	e.cols = append(e.cols.Clone(), col)
	e.mu.Unlock()

	err := e.persist("add-column", func(ctx context.Context) error {
		if err := e.store.InsertColumn(ctx, e.boardID, col); err != nil {
			return err
		}
		e.announce(ctx, "add-column")
		return nil
	})
	return col, err
}

// RenameColumn changes a column's title.
func (e *Engine) RenameColumn(columnID, title string) error {
	e.mu.Lock()
	idx := -1
	for i := range e.cols {
		if e.cols[i].ID == columnID {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return domain.ErrColumnNotFound
	}
	next := e.cols.Clone()
	next[idx].Title = title
	e.cols = next
	e.mu.Unlock()

	return e.persist("rename-column", func(ctx context.Context) error {
		if err := e.store.UpdateColumnTitle(ctx, e.boardID, columnID, title); err != nil {
			return err
		}
		e.announce(ctx, "rename-column")
		return nil
	})
}

// DeleteColumn removes a column and the cards it owns. Remaining orders keep
// their gaps; AddColumn allocates past the maximum, so gaps stay harmless.
func (e *Engine) DeleteColumn(columnID string) error {
	e.mu.Lock()
	next := e.cols.Clone()
	idx := -1
	for i := range next {
		if next[i].ID == columnID {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return domain.ErrColumnNotFound
	}
	e.cols = append(next[:idx], next[idx+1:]...)
	e.mu.Unlock()

	return e.persist("delete-column", func(ctx context.Context) error {
		if err := e.store.DeleteColumn(ctx, e.boardID, columnID); err != nil {
			return err
		}
		e.announce(ctx, "delete-column")
		return nil
	})
}

// AddCard appends a card to the named column. The identifier is assigned
// here, client-side, and never changes.
func (e *Engine) AddCard(columnID, title, description string) (domain.Card, error) {
	if title == "" {
		title = defaultCardTitle
	}
	card := domain.Card{ID: uuid.NewString(), Title: title, Description: description}

	err := e.mutateCards("add-card", columnID, func(cards []domain.Card) ([]domain.Card, error) {
		return append(cards, card), nil
	})
	if err != nil {
		return domain.Card{}, err
	}
	return card, nil
}

// EditCard patches a card's title and/or description; nil leaves a field
// unchanged.
func (e *Engine) EditCard(columnID, cardID string, titlePatch, descriptionPatch *string) error {
	if titlePatch == nil && descriptionPatch == nil {
		return nil
	}
	return e.mutateCards("edit-card", columnID, func(cards []domain.Card) ([]domain.Card, error) {
		for i := range cards {
			if cards[i].ID != cardID {
				continue
			}
			if titlePatch != nil {
				cards[i].Title = *titlePatch
			}
			if descriptionPatch != nil {
				cards[i].Description = *descriptionPatch
			}
			return cards, nil
		}
		return nil, domain.ErrCardNotFound
	})
}

// DeleteCard removes a card from the named column.
func (e *Engine) DeleteCard(columnID, cardID string) error {
	return e.mutateCards("delete-card", columnID, func(cards []domain.Card) ([]domain.Card, error) {
		for i := range cards {
			if cards[i].ID == cardID {
				return append(cards[:i], cards[i+1:]...), nil
			}
		}
		return nil, domain.ErrCardNotFound
	})
}

// mutateCards rewrites one column's card sequence under the lock and
// persists it as a single-document batch write.
func (e *Engine) mutateCards(op, columnID string, fn func(cards []domain.Card) ([]domain.Card, error)) error {
	e.mu.Lock()
	next := e.cols.Clone()
	idx := -1
	for i := range next {
		if next[i].ID == columnID {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return domain.ErrColumnNotFound
	}
	cards, err := fn(next[idx].Cards)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	next[idx].Cards = cards
	e.cols = next
	e.mu.Unlock()

	persisted := append([]domain.Card(nil), cards...)
	write := domain.ColumnWrite{ColumnID: columnID, Cards: &persisted}
	return e.persist(op, e.batchCommit(op, []domain.ColumnWrite{write}))
}

func (e *Engine) batchCommit(op string, writes []domain.ColumnWrite) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := e.store.CommitBatch(ctx, e.boardID, writes); err != nil {
			return err
		}
		e.announce(ctx, op)
		return nil
	}
}

// announce enqueues the change event that feeds the update channel. Losing
// it only delays the echo until the next committed write, so failures are
// logged and swallowed.
func (e *Engine) announce(ctx context.Context, op string) {
	ev := domain.ChangeEvent{
		BoardID:   e.boardID,
		UserID:    e.userID,
		Op:        op,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := e.store.EnqueueChange(ctx, ev); err != nil {
		e.logger.WithError(err).WithField("board", e.boardID).Error("enqueue change event failed")
	}
}

// persist hands the commit to the worker pool, or runs it inline when the
// pool is saturated or not running. Local state is never rolled back on
// failure; the divergence self-heals on the next snapshot.
func (e *Engine) persist(op string, commit func(ctx context.Context) error) error {
	job := commitJob{boardID: e.boardID, op: op, commit: commit, notify: e}
	if tryEnqueueJob(job) {
		return nil
	}

	ctx, cancel := context.WithTimeout(bg, inlineCommitTimeout())
	defer cancel()
	if err := commit(ctx); err != nil {
		e.reportFailure(op, err)
		return err
	}
	return nil
}

func (e *Engine) reportFailure(op string, err error) {
	e.logger.WithError(err).WithFields(log.Fields{
		"board": e.boardID,
		"op":    op,
	}).Error("persist failed; keeping optimistic state")
	select {
	case e.failures <- Failure{Op: op, Err: err, Time: time.Now()}:
	default:
	}
}
