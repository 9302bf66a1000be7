package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/xptea/TaskPilot/command"
	"github.com/xptea/TaskPilot/domain"
	"github.com/xptea/TaskPilot/engine"
)

const postCommandMaxSize = 1 << 20

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, mgr *engine.Manager, broker *Broker, auth Authenticator, deduper Deduper, logger *log.Logger) {
	e.GET("/api/boards", getBoards(store, auth))
	e.POST("/api/boards", postBoard(store, auth))
	e.PUT("/api/boards/:id", putBoard(store, auth))
	e.DELETE("/api/boards/:id", deleteBoard(store, mgr, auth))
	e.GET("/api/boards/:id/columns", getColumns(store, mgr, auth, logger))
	e.POST("/api/boards/:id/commands", postCommands(store, mgr, auth, deduper))
	e.GET("/stream", streamColumns(store, mgr, auth, broker))
	e.GET("/healthz", healthz())

	engine.InitCommitPool(logger)
}

type boardRequest struct {
	Title string `json:"title"`
}

type commandResult struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

type postCommandResponse struct {
	Results []commandResult `json:"results"`
}

// requireBoard resolves a board and enforces ownership. A board owned by
// another user is indistinguishable from a missing one.
func requireBoard(ctx context.Context, store Storage, userID, boardID string) (*domain.Board, error) {
	board, err := store.GetBoard(ctx, userID, boardID)
	if err != nil {
		return nil, err
	}
	if board == nil {
		return nil, domain.ErrBoardNotFound
	}
	return board, nil
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getBoards(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boards, err := store.FetchBoards(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, boards)
	}
}

func postBoard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req boardRequest
		if err := c.Bind(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		title := strings.TrimSpace(req.Title)
		if title == "" {
			return c.String(http.StatusBadRequest, "title is required")
		}
		board, err := store.CreateBoard(ctx, userID, title)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusCreated, board)
	}
}

func putBoard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("id")
		var req boardRequest
		if err := c.Bind(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		title := strings.TrimSpace(req.Title)
		if title == "" {
			return c.String(http.StatusBadRequest, "title is required")
		}
		if _, err := requireBoard(ctx, store, userID, boardID); err != nil {
			if errors.Is(err, domain.ErrBoardNotFound) {
				return c.NoContent(http.StatusNotFound)
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if err := store.RenameBoard(ctx, userID, boardID, title); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteBoard(store Storage, mgr *engine.Manager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("id")
		if _, err := requireBoard(ctx, store, userID, boardID); err != nil {
			if errors.Is(err, domain.ErrBoardNotFound) {
				return c.NoContent(http.StatusNotFound)
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if err := store.DeleteBoard(ctx, userID, boardID); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		mgr.Evict(boardID)
		return c.NoContent(http.StatusNoContent)
	}
}

func getColumns(store Storage, mgr *engine.Manager, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newColumnsRequestMetrics(ctx, logger)
		if spanCtx != nil {
			req := c.Request().WithContext(spanCtx)
			c.SetRequest(req)
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		boardID := c.Param("id")
		if _, boardErr := requireBoard(ctx, store, userID, boardID); boardErr != nil {
			if errors.Is(boardErr, domain.ErrBoardNotFound) {
				metrics.SetErrorStage("unknown_board")
				err = c.NoContent(http.StatusNotFound)
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(boardErr)
			err = c.String(http.StatusInternalServerError, boardErr.Error())
			return err
		}

		fetchStart := time.Now()
		eng, loadErr := mgr.Get(ctx, boardID, userID)
		metrics.ObserveFetch(time.Since(fetchStart))
		if loadErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(loadErr)
			err = c.String(http.StatusInternalServerError, loadErr.Error())
			return err
		}
		cols := eng.Columns()
		metrics.SetColumnsReturned(len(cols))
		metrics.SetCardsReturned(cols.TotalCards())

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, cols)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func postCommands(store Storage, mgr *engine.Manager, auth Authenticator, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("id")
		if _, err := requireBoard(ctx, store, userID, boardID); err != nil {
			if errors.Is(err, domain.ErrBoardNotFound) {
				return c.NoContent(http.StatusNotFound)
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		lr := io.LimitReader(c.Request().Body, postCommandMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		cmds := make([]domain.Command, 0, 4)
		if err := dec.Decode(&cmds); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		eng, err := mgr.Get(ctx, boardID, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		results := make([]commandResult, len(cmds))
		for i := range cmds {
			if cmds[i].IdempotencyKey == "" {
				cmds[i].IdempotencyKey = uuid.NewString()
			}
			cmds[i].ID = cmds[i].IdempotencyKey
			cmds[i].Timestamp = nextTimestamp()
			results[i].IdempotencyKey = cmds[i].IdempotencyKey

			added, dedupeErr := deduper.Add(ctx, userID, cmds[i].IdempotencyKey)
			if dedupeErr != nil {
				c.Logger().Error(dedupeErr)
				return c.String(http.StatusInternalServerError, "idempotency check failed")
			}
			if !added {
				results[i].Status = "duplicate"
				continue
			}

			if applyErr := command.Apply(eng, cmds[i]); applyErr != nil {
				if rerr := deduper.Remove(ctx, userID, cmds[i].IdempotencyKey); rerr != nil {
					c.Logger().Errorf("dedupe rollback failed: %v, key: %s", rerr, cmds[i].IdempotencyKey)
				}
				results[i].Status = "rejected"
				results[i].Error = applyErr.Error()
				continue
			}
			results[i].Status = "applied"
		}

		return c.JSON(http.StatusAccepted, postCommandResponse{Results: results})
	}
}

func streamColumns(store Storage, mgr *engine.Manager, auth Authenticator, broker *Broker) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		userID, err := auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.QueryParam("board")
		if boardID == "" {
			return c.String(http.StatusBadRequest, "board is required")
		}
		ctx := c.Request().Context()
		if _, err := requireBoard(ctx, store, userID, boardID); err != nil {
			if errors.Is(err, domain.ErrBoardNotFound) {
				return c.NoContent(http.StatusNotFound)
			}
			c.Logger().Error(err)
			return err
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		eng, err := mgr.Get(ctx, boardID, userID)
		if err != nil {
			c.Logger().Error(err)
			return err
		}
		ch := broker.Subscribe(boardID)
		defer broker.Unsubscribe(boardID, ch)

		data, err := json.Marshal(eng.Columns())
		if err != nil {
			c.Logger().Error(err)
			return err
		}
		if err := writeSSE(c, flusher, "", data); err != nil {
			return err
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case data := <-ch:
				if err := writeSSE(c, flusher, "", data); err != nil {
					return err
				}
			case f := <-eng.Failures():
				payload, err := json.Marshal(map[string]string{"op": f.Op, "error": f.Err.Error()})
				if err != nil {
					continue
				}
				if err := writeSSE(c, flusher, "persist-failure", payload); err != nil {
					return err
				}
			}
		}
	}
}

func writeSSE(c echo.Context, flusher http.Flusher, event string, data []byte) error {
	if event != "" {
		if _, err := c.Response().Write([]byte("event: " + event + "\n")); err != nil {
			return err
		}
	}
	if _, err := c.Response().Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := c.Response().Write(data); err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
