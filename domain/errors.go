package domain

import "errors"

// ErrColumnNotFound indicates a command referenced a column that is not part
// of the current board state.
var ErrColumnNotFound = errors.New("column not found")

// ErrCardNotFound indicates a command referenced a card that is not present
// in the named column.
var ErrCardNotFound = errors.New("card not found")

// ErrBoardNotFound indicates the requested board does not exist or is not
// owned by the caller.
var ErrBoardNotFound = errors.New("board not found")
