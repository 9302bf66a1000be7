package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"

	"github.com/xptea/TaskPilot/domain"
)

// A board's columns share one table partition (PartitionKey = board id), so
// a SubmitTransaction against that partition is the atomic multi-document
// batch the sync engine relies on: all writes land or none do.
const transactionLimit = 100

// Storage provides access to underlying persistence mechanisms.
type Storage struct {
	boardTable  *aztables.Client
	columnTable *aztables.Client
	changeQueue *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, boardsTable, columnsTable, changeQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	bt := svc.NewClient(boardsTable)
	ct := svc.NewClient(columnsTable)
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, changeQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{boardTable: bt, columnTable: ct, changeQueue: cq}, nil
}

type boardEntity struct {
	aztables.Entity
	Title     string `json:"Title"`
	CreatedAt string `json:"CreatedAt,omitempty"`
}

type columnEntity struct {
	aztables.Entity
	Title     string `json:"Title"`
	Order     int    `json:"Order"`
	Cards     string `json:"Cards"`
	CreatedAt string `json:"CreatedAt,omitempty"`
}

func decodeColumnEntity(data []byte) (domain.Column, error) {
	var ent columnEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Column{}, err
	}
	cards := []domain.Card{}
	if ent.Cards != "" {
		if err := json.Unmarshal([]byte(ent.Cards), &cards); err != nil {
			return domain.Column{}, err
		}
	}
	return domain.Column{
		ID:        ent.RowKey,
		Title:     ent.Title,
		Order:     ent.Order,
		Cards:     cards,
		CreatedAt: ent.CreatedAt,
	}, nil
}

func encodeColumnEntity(boardID string, col domain.Column) ([]byte, error) {
	cards := col.Cards
	if cards == nil {
		cards = []domain.Card{}
	}
	raw, err := json.Marshal(cards)
	if err != nil {
		return nil, err
	}
	return json.Marshal(columnEntity{
		Entity:    aztables.Entity{PartitionKey: boardID, RowKey: col.ID},
		Title:     col.Title,
		Order:     col.Order,
		Cards:     string(raw),
		CreatedAt: col.CreatedAt,
	})
}

// FetchColumns retrieves all columns of a board, sorted by persisted order.
func (s *Storage) FetchColumns(ctx context.Context, boardID string) (domain.Columns, error) {
	filter := "PartitionKey eq '" + boardID + "'"
	pager := s.columnTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	cols := domain.Columns{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			col, err := decodeColumnEntity(e)
			if err != nil {
				return nil, err
			}
			cols = append(cols, col)
		}
	}
	return cols.Sorted(), nil
}

// InsertColumn persists a freshly created column document.
func (s *Storage) InsertColumn(ctx context.Context, boardID string, col domain.Column) error {
	payload, err := encodeColumnEntity(boardID, col)
	if err != nil {
		return err
	}
	_, err = s.columnTable.AddEntity(ctx, payload, nil)
	return err
}

// UpdateColumnTitle merges a new title into an existing column document.
func (s *Storage) UpdateColumnTitle(ctx context.Context, boardID, columnID, title string) error {
	payload, err := json.Marshal(struct {
		aztables.Entity
		Title string `json:"Title"`
	}{
		Entity: aztables.Entity{PartitionKey: boardID, RowKey: columnID},
		Title:  title,
	})
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.columnTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

// DeleteColumn removes a column document.
func (s *Storage) DeleteColumn(ctx context.Context, boardID, columnID string) error {
	_, err := s.columnTable.DeleteEntity(ctx, boardID, columnID, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

type columnWriteEntity struct {
	aztables.Entity
	Order *int    `json:"Order,omitempty"`
	Cards *string `json:"Cards,omitempty"`
}

func transactionActions(boardID string, writes []domain.ColumnWrite) ([]aztables.TransactionAction, error) {
	actions := make([]aztables.TransactionAction, 0, len(writes))
	for _, w := range writes {
		ent := columnWriteEntity{
			Entity: aztables.Entity{PartitionKey: boardID, RowKey: w.ColumnID},
			Order:  w.Order,
		}
		if w.Cards != nil {
			raw, err := json.Marshal(*w.Cards)
			if err != nil {
				return nil, err
			}
			s := string(raw)
			ent.Cards = &s
		}
		payload, err := json.Marshal(ent)
		if err != nil {
			return nil, err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     payload,
		})
	}
	return actions, nil
}

// CommitBatch applies the given column writes as a single atomic
// transaction. Callers only invoke it with a non-empty write set; an empty
// set is a no-op.
func (s *Storage) CommitBatch(ctx context.Context, boardID string, writes []domain.ColumnWrite) error {
	if len(writes) == 0 {
		return nil
	}
	actions, err := transactionActions(boardID, writes)
	if err != nil {
		return err
	}
	_, err = s.columnTable.SubmitTransaction(ctx, actions, nil)
	return err
}

// FetchBoards lists the boards owned by a user.
func (s *Storage) FetchBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	filter := "PartitionKey eq '" + userID + "'"
	pager := s.boardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	boards := []domain.Board{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent boardEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			boards = append(boards, domain.Board{ID: ent.RowKey, Title: ent.Title, CreatedAt: ent.CreatedAt})
		}
	}
	return boards, nil
}

// GetBoard retrieves a board owned by the user, or nil when absent.
func (s *Storage) GetBoard(ctx context.Context, userID, boardID string) (*domain.Board, error) {
	ent, err := s.boardTable.GetEntity(ctx, userID, boardID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var b boardEntity
	if err := json.Unmarshal(ent.Value, &b); err != nil {
		return nil, err
	}
	return &domain.Board{ID: b.RowKey, Title: b.Title, CreatedAt: b.CreatedAt}, nil
}

// CreateBoard persists a new board and returns it.
func (s *Storage) CreateBoard(ctx context.Context, userID, title string) (domain.Board, error) {
	board := domain.Board{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(boardEntity{
		Entity:    aztables.Entity{PartitionKey: userID, RowKey: board.ID},
		Title:     board.Title,
		CreatedAt: board.CreatedAt,
	})
	if err != nil {
		return domain.Board{}, err
	}
	if _, err := s.boardTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Board{}, err
	}
	return board, nil
}

// RenameBoard merges a new title into an existing board document.
func (s *Storage) RenameBoard(ctx context.Context, userID, boardID, title string) error {
	payload, err := json.Marshal(boardEntity{
		Entity: aztables.Entity{PartitionKey: userID, RowKey: boardID},
		Title:  title,
	})
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.boardTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

// DeleteBoard removes a board together with its column partition.
func (s *Storage) DeleteBoard(ctx context.Context, userID, boardID string) error {
	cols, err := s.FetchColumns(ctx, boardID)
	if err != nil {
		return err
	}
	for start := 0; start < len(cols); start += transactionLimit {
		end := start + transactionLimit
		if end > len(cols) {
			end = len(cols)
		}
		actions := make([]aztables.TransactionAction, 0, end-start)
		for _, col := range cols[start:end] {
			payload, err := json.Marshal(aztables.Entity{PartitionKey: boardID, RowKey: col.ID})
			if err != nil {
				return err
			}
			actions = append(actions, aztables.TransactionAction{
				ActionType: aztables.TransactionTypeDelete,
				Entity:     payload,
			})
		}
		if _, err := s.columnTable.SubmitTransaction(ctx, actions, nil); err != nil {
			return err
		}
	}
	_, err = s.boardTable.DeleteEntity(ctx, userID, boardID, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// EnqueueChange sends a change event to the change queue.
func (s *Storage) EnqueueChange(ctx context.Context, ev domain.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.changeQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// DequeueChange retrieves a single message from the change queue.
func (s *Storage) DequeueChange(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	resp, err := s.changeQueue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0], nil
}

// DeleteChange removes a processed message from the change queue.
func (s *Storage) DeleteChange(ctx context.Context, id, receipt string) error {
	_, err := s.changeQueue.DeleteMessage(ctx, id, receipt, nil)
	return err
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}
