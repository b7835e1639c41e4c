package domain

import (
	"context"
	"strings"
)

// NewBoard is the input of BoardService.Create.
type NewBoard struct {
	Title    string
	Settings *BoardSettings
}

// BoardService creates boards and manages their settings.
type BoardService struct {
	accounts AccountStore
	boards   BoardStore
}

func NewBoardService(accounts AccountStore, boards BoardStore) BoardService {
	return BoardService{accounts: accounts, boards: boards}
}

// Create stores a board owned by ownerID. The owner must still exist so a
// board is never created pointing at a deleted account.
func (s BoardService) Create(ctx context.Context, ownerID string, in NewBoard) (Board, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Board{}, Invalid("title", "Title is required")
	}
	var settings BoardSettings
	if in.Settings != nil {
		settings = in.Settings.Clone()
	}
	if err := settings.Validate(); err != nil {
		return Board{}, err
	}
	if _, err := s.accounts.GetAccount(ctx, ownerID); err != nil {
		return Board{}, err
	}
	b := Board{
		ID:        NewID(),
		OwnerID:   ownerID,
		Title:     title,
		Settings:  settings.withCreationDefaults(),
		CreatedAt: now(),
	}
	if err := s.boards.CreateBoard(ctx, b); err != nil {
		return Board{}, err
	}
	return b, nil
}

// List returns the boards whose stored owner is ownerID.
func (s BoardService) List(ctx context.Context, ownerID string) ([]Board, error) {
	return s.boards.ListBoards(ctx, ownerID)
}

// Settings returns the stored settings document unchanged.
func (s BoardService) Settings(ctx context.Context, id string) (BoardSettings, error) {
	b, err := s.boards.GetBoard(ctx, id)
	if err != nil {
		return BoardSettings{}, err
	}
	return b.Settings, nil
}

// ReplaceSettings overwrites the whole settings document.
func (s BoardService) ReplaceSettings(ctx context.Context, id string, settings BoardSettings) (BoardSettings, error) {
	if err := settings.Validate(); err != nil {
		return BoardSettings{}, err
	}
	b, err := s.boards.ReplaceBoardSettings(ctx, id, settings)
	if err != nil {
		return BoardSettings{}, err
	}
	return b.Settings, nil
}
