package command

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/xptea/TaskPilot/domain"
)

// Command types accepted by Apply.
const (
	TypeMoveColumn   = "move-column"
	TypeMoveCard     = "move-card"
	TypeAddColumn    = "add-column"
	TypeAddCard      = "add-card"
	TypeRenameColumn = "rename-column"
	TypeEditCard     = "edit-card"
	TypeDeleteColumn = "delete-column"
	TypeDeleteCard   = "delete-card"
)

// Facade is the mutation surface commands are applied against.
type Facade interface {
	Columns() domain.Columns
	MoveColumn(sourceIndex, destIndex int) error
	MoveCard(sourceColumnID string, sourceIndex int, destColumnID string, destIndex int) error
	AddColumn(title string) (domain.Column, error)
	RenameColumn(columnID, title string) error
	DeleteColumn(columnID string) error
	AddCard(columnID, title, description string) (domain.Card, error)
	EditCard(columnID, cardID string, titlePatch, descriptionPatch *string) error
	DeleteCard(columnID, cardID string) error
}

type moveColumnData struct {
	SourceIndex int `json:"sourceIndex"`
	DestIndex   int `json:"destIndex"`
}

type moveCardData struct {
	SourceColumn string `json:"sourceColumn"`
	SourceIndex  int    `json:"sourceIndex"`
	DestColumn   string `json:"destColumn"`
	DestIndex    int    `json:"destIndex"`
}

type addColumnData struct {
	Title string `json:"title"`
}

type addCardData struct {
	Column      string `json:"column"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type renameColumnData struct {
	Column string `json:"column"`
	Title  string `json:"title"`
}

type editCardData struct {
	Column      string  `json:"column"`
	Card        string  `json:"card"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

type deleteColumnData struct {
	Column string `json:"column"`
}

type deleteCardData struct {
	Column string `json:"column"`
	Card   string `json:"card"`
}

// Apply decodes a command and runs it against the facade. Columns and cards
// may be addressed by identifier or, matching how spoken commands arrive, by
// title; title matching is case-insensitive and ignores surrounding
// whitespace.
func Apply(f Facade, cmd domain.Command) error {
	switch cmd.Type {
	case TypeMoveColumn:
		var data moveColumnData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		return f.MoveColumn(data.SourceIndex, data.DestIndex)
	case TypeMoveCard:
		var data moveCardData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		cols := f.Columns()
		src, ok := resolveColumn(cols, data.SourceColumn)
		if !ok {
			return domain.ErrColumnNotFound
		}
		dst, ok := resolveColumn(cols, data.DestColumn)
		if !ok {
			return domain.ErrColumnNotFound
		}
		return f.MoveCard(src.ID, data.SourceIndex, dst.ID, data.DestIndex)
	case TypeAddColumn:
		var data addColumnData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		_, err := f.AddColumn(strings.TrimSpace(data.Title))
		return err
	case TypeAddCard:
		var data addCardData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		col, ok := resolveColumn(f.Columns(), data.Column)
		if !ok {
			return domain.ErrColumnNotFound
		}
		_, err := f.AddCard(col.ID, strings.TrimSpace(data.Title), strings.TrimSpace(data.Description))
		return err
	case TypeRenameColumn:
		var data renameColumnData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		col, ok := resolveColumn(f.Columns(), data.Column)
		if !ok {
			return domain.ErrColumnNotFound
		}
		return f.RenameColumn(col.ID, strings.TrimSpace(data.Title))
	case TypeEditCard:
		var data editCardData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		col, ok := resolveColumn(f.Columns(), data.Column)
		if !ok {
			return domain.ErrColumnNotFound
		}
		card, ok := resolveCard(col, data.Card)
		if !ok {
			return domain.ErrCardNotFound
		}
		title := data.Title
		if title != nil {
			trimmed := strings.TrimSpace(*title)
			title = &trimmed
		}
		desc := data.Description
		if desc != nil {
			trimmed := strings.TrimSpace(*desc)
			desc = &trimmed
		}
		return f.EditCard(col.ID, card.ID, title, desc)
	case TypeDeleteColumn:
		var data deleteColumnData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		col, ok := resolveColumn(f.Columns(), data.Column)
		if !ok {
			return domain.ErrColumnNotFound
		}
		return f.DeleteColumn(col.ID)
	case TypeDeleteCard:
		var data deleteCardData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		col, ok := resolveColumn(f.Columns(), data.Column)
		if !ok {
			return domain.ErrColumnNotFound
		}
		card, ok := resolveCard(col, data.Card)
		if !ok {
			return domain.ErrCardNotFound
		}
		return f.DeleteCard(col.ID, card.ID)
	default:
		return fmt.Errorf("unknown command type %s", cmd.Type)
	}
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// resolveColumn matches by identifier first, then by normalized title.
func resolveColumn(cols domain.Columns, ref string) (domain.Column, bool) {
	for _, col := range cols {
		if col.ID == ref {
			return col, true
		}
	}
	want := normalizeTitle(ref)
	if want == "" {
		return domain.Column{}, false
	}
	return cols.FindColumn(func(col domain.Column) bool {
		return normalizeTitle(col.Title) == want
	})
}

func resolveCard(col domain.Column, ref string) (domain.Card, bool) {
	for _, card := range col.Cards {
		if card.ID == ref {
			return card, true
		}
	}
	want := normalizeTitle(ref)
	if want == "" {
		return domain.Card{}, false
	}
	for _, card := range col.Cards {
		if normalizeTitle(card.Title) == want {
			return card, true
		}
	}
	return domain.Card{}, false
}
