package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/xptea/TaskPilot/storage"
)

// relayChanges drains the change queue and republishes each event on the
// Redis update channel the subscription fan-out listens on. The queue entry
// is deleted only after a successful publish, so a crashed relay replays the
// event instead of losing it.
func relayChanges(ctx context.Context, logger *log.Logger, store *storage.Storage, rc *redis.Client, channel string) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := store.DequeueChange(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("dequeue change: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if msg == nil {
			time.Sleep(time.Second)
			continue
		}
		if msg.MessageText != nil {
			if err := rc.Publish(ctx, channel, *msg.MessageText).Err(); err != nil {
				logger.Errorf("publish update: %v", err)
				time.Sleep(time.Second)
				continue
			}
		}
		if msg.MessageID != nil && msg.PopReceipt != nil {
			if err := store.DeleteChange(ctx, *msg.MessageID, *msg.PopReceipt); err != nil {
				logger.Errorf("delete change: %v", err)
			}
		}
	}
}
