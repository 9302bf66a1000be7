package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/xptea/TaskPilot/domain"
)

// fakeStore records every call so tests can assert on exactly what was
// persisted and in which order.
type fakeStore struct {
	mu sync.Mutex

	fetchColumnsFn func(ctx context.Context, boardID string) (domain.Columns, error)
	commitBatchFn  func(ctx context.Context, boardID string, writes []domain.ColumnWrite) error

	inserted []domain.Column
	renamed  []string
	deleted  []string
	batches  [][]domain.ColumnWrite
	events   []domain.ChangeEvent
}

func (f *fakeStore) FetchColumns(ctx context.Context, boardID string) (domain.Columns, error) {
	if f.fetchColumnsFn != nil {
		return f.fetchColumnsFn(ctx, boardID)
	}
	return domain.Columns{}, nil
}

func (f *fakeStore) InsertColumn(_ context.Context, _ string, col domain.Column) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, col)
	return nil
}

func (f *fakeStore) UpdateColumnTitle(_ context.Context, _, columnID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renamed = append(f.renamed, columnID+"="+title)
	return nil
}

func (f *fakeStore) DeleteColumn(_ context.Context, _, columnID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, columnID)
	return nil
}

func (f *fakeStore) CommitBatch(ctx context.Context, boardID string, writes []domain.ColumnWrite) error {
	if f.commitBatchFn != nil {
		if err := f.commitBatchFn(ctx, boardID, writes); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, writes)
	return nil
}

func (f *fakeStore) EnqueueChange(_ context.Context, ev domain.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeStore) lastBatch() []domain.ColumnWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil
	}
	return f.batches[len(f.batches)-1]
}

var errStoreDown = errors.New("store unavailable")
