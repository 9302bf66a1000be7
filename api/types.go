package api

import (
	"context"

	"github.com/xptea/TaskPilot/domain"
)

// Storage abstracts board persistence for handlers.
type Storage interface {
	FetchBoards(ctx context.Context, userID string) ([]domain.Board, error)
	GetBoard(ctx context.Context, userID, boardID string) (*domain.Board, error)
	CreateBoard(ctx context.Context, userID, title string) (domain.Board, error)
	RenameBoard(ctx context.Context, userID, boardID, title string) error
	DeleteBoard(ctx context.Context, userID, boardID string) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate commands.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}
