package domain

import (
	"context"
	"strings"
)

// NewCard is the input of WorkflowService.AppendCard.
type NewCard struct {
	Title       string
	Description string
}

// WorkflowService manages the columns of a board and the cards inside them.
type WorkflowService struct {
	boards    BoardStore
	workflows WorkflowStore
}

func NewWorkflowService(boards BoardStore, workflows WorkflowStore) WorkflowService {
	return WorkflowService{boards: boards, workflows: workflows}
}

// List returns the workflows of a board; an unknown board yields an empty list.
func (s WorkflowService) List(ctx context.Context, boardID string) ([]Workflow, error) {
	return s.workflows.ListWorkflows(ctx, boardID)
}

// Create adds an empty workflow to an existing board.
func (s WorkflowService) Create(ctx context.Context, boardID, title string) (Workflow, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Workflow{}, Invalid("title", "Title is required")
	}
	if _, err := s.boards.GetBoard(ctx, boardID); err != nil {
		return Workflow{}, err
	}
	w := Workflow{
		ID:        NewID(),
		BoardID:   boardID,
		Title:     title,
		Cards:     Cards{},
		CreatedAt: now(),
	}
	if err := s.workflows.CreateWorkflow(ctx, w); err != nil {
		return Workflow{}, err
	}
	return w, nil
}

// AppendCard puts a new card at the end of the workflow's sequence.
func (s WorkflowService) AppendCard(ctx context.Context, workflowID string, in NewCard) (Card, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Card{}, Invalid("title", "Title is required")
	}
	card := Card{
		ID:          NewID(),
		Title:       title,
		Description: in.Description,
		CreatedAt:   now(),
	}
	if _, err := s.workflows.AppendCard(ctx, workflowID, card); err != nil {
		return Card{}, err
	}
	return card, nil
}

// RemoveCard deletes a card from the workflow's sequence. Only a missing
// workflow is an error; an unknown card id leaves the sequence as it was.
func (s WorkflowService) RemoveCard(ctx context.Context, workflowID, cardID string) error {
	_, err := s.workflows.RemoveCard(ctx, workflowID, cardID)
	return err
}
