package subscription

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/xptea/TaskPilot/domain"
	"github.com/xptea/TaskPilot/storage"
)

// ColumnSource fetches the authoritative column snapshot for a board.
type ColumnSource interface {
	FetchColumns(ctx context.Context, boardID string) (domain.Columns, error)
}

// SubscribeUpdates listens on the update channel and, for every change
// event, refetches the board's columns, refreshes the cached snapshot and
// hands the result to broadcast. It reconnects on pubsub failure and
// returns when ctx is done.
func SubscribeUpdates(
	ctx context.Context,
	logger *log.Logger,
	rc *redis.Client,
	store ColumnSource,
	updatesChannel string,
	broadcast func(boardID string, cols domain.Columns, data []byte),
) {
	for {
		sub := rc.Subscribe(ctx, updatesChannel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev domain.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Errorf("unable to parse update: %v", err)
					continue
				}
				if ev.BoardID == "" {
					logger.Error("update without board id dropped")
					continue
				}
				cols, err := store.FetchColumns(ctx, ev.BoardID)
				if err != nil {
					logger.Errorf("fetch columns: %v", err)
					continue
				}
				data, err := json.Marshal(cols)
				if err != nil {
					logger.Errorf("marshal columns: %v", err)
					continue
				}
				if err := rc.Set(ctx, storage.ColumnsCacheKey(ev.BoardID), data, 0).Err(); err != nil {
					logger.Errorf("cache columns: %v", err)
				}
				broadcast(ev.BoardID, cols, data)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
