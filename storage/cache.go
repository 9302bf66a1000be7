package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xptea/TaskPilot/domain"
)

type backend interface {
	FetchColumns(ctx context.Context, boardID string) (domain.Columns, error)
	InsertColumn(ctx context.Context, boardID string, col domain.Column) error
	UpdateColumnTitle(ctx context.Context, boardID, columnID, title string) error
	DeleteColumn(ctx context.Context, boardID, columnID string) error
	CommitBatch(ctx context.Context, boardID string, writes []domain.ColumnWrite) error
}

// Cache wraps a Storage instance with Redis-backed caching for column and
// board reads. Every write evicts the affected board's entry; the
// subscription fan-out repopulates it from the next authoritative snapshot.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) FetchColumns(ctx context.Context, boardID string) (domain.Columns, error) {
	if cols, ok := c.loadColumnsFromCache(ctx, boardID); ok {
		return cols, nil
	}

	cols, err := c.base.FetchColumns(ctx, boardID)
	if err != nil {
		return nil, err
	}

	c.storeColumns(ctx, boardID, cols)
	return cols, nil
}

func (c *Cache) InsertColumn(ctx context.Context, boardID string, col domain.Column) error {
	if err := c.base.InsertColumn(ctx, boardID, col); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) UpdateColumnTitle(ctx context.Context, boardID, columnID, title string) error {
	if err := c.base.UpdateColumnTitle(ctx, boardID, columnID, title); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) DeleteColumn(ctx context.Context, boardID, columnID string) error {
	if err := c.base.DeleteColumn(ctx, boardID, columnID); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) CommitBatch(ctx context.Context, boardID string, writes []domain.ColumnWrite) error {
	if err := c.base.CommitBatch(ctx, boardID, writes); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) loadColumnsFromCache(ctx context.Context, boardID string) (domain.Columns, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, ColumnsCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, ColumnsCacheKey(boardID)).Err()
		}
		return nil, false
	}
	var cols domain.Columns
	if err := json.Unmarshal(data, &cols); err != nil {
		_ = c.redis.Del(ctx, ColumnsCacheKey(boardID)).Err()
		return nil, false
	}
	return cols, true
}

func (c *Cache) storeColumns(ctx context.Context, boardID string, cols domain.Columns) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(cols)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, ColumnsCacheKey(boardID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, ColumnsCacheKey(boardID)).Result()
}

// ColumnsCacheKey names the cached column snapshot for a board. The
// subscription fan-out writes the same key after every change event.
func ColumnsCacheKey(boardID string) string {
	return "cols:" + boardID
}
