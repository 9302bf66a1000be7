package domain

import "github.com/bytedance/sonic"

// Command represents a structured write request against a board. Data holds
// the type-specific payload and is decoded by the command layer.
type Command struct {
	// ID carries the idempotency key once the command is accepted.
	ID             string                 `json:"id,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	Type           string                 `json:"type"`
	Data           sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp      int64                  `json:"timestamp"`
}

// ChangeEvent is the message enqueued after every committed write and
// relayed onto the update channel; it names the board whose columns changed.
type ChangeEvent struct {
	BoardID   string `json:"boardId"`
	UserID    string `json:"userId"`
	Op        string `json:"op"`
	Timestamp int64  `json:"timestamp"`
}
