package domain

import "context"

// AccountStore persists Accounts. Lookups of missing ids return a
// *NotFoundError; a duplicate email on create returns a *ConflictError.
type AccountStore interface {
	CreateAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, id string) (Account, error)
	FindAccountByEmail(ctx context.Context, email string) (Account, error)
	// ReplaceAccountSettings overwrites the whole settings document.
	ReplaceAccountSettings(ctx context.Context, id string, s AccountSettings) (Account, error)
	DeleteAccount(ctx context.Context, id string) (Account, error)
}

// BoardStore persists Boards. Ownership is a plain field; nothing here checks
// that the owner exists.
type BoardStore interface {
	CreateBoard(ctx context.Context, b Board) error
	GetBoard(ctx context.Context, id string) (Board, error)
	// ListBoards filters by the stored owner id and returns an empty slice
	// for unknown owners.
	ListBoards(ctx context.Context, ownerID string) ([]Board, error)
	// BoardIDs is the uncached id listing used by cascades.
	BoardIDs(ctx context.Context, ownerID string) ([]string, error)
	ReplaceBoardSettings(ctx context.Context, id string, s BoardSettings) (Board, error)
	DeleteBoard(ctx context.Context, id string) (Board, error)
	// DeleteBoardsByOwner removes every board of the owner and returns their ids.
	DeleteBoardsByOwner(ctx context.Context, ownerID string) ([]string, error)
}

// WorkflowStore persists Workflows together with their embedded Cards.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, w Workflow) error
	GetWorkflow(ctx context.Context, id string) (Workflow, error)
	ListWorkflows(ctx context.Context, boardID string) ([]Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) (Workflow, error)
	// DeleteWorkflowsByBoards removes every workflow whose board id is in
	// boardIDs and returns how many were removed.
	DeleteWorkflowsByBoards(ctx context.Context, boardIDs []string) (int, error)
	// AppendCard adds card at the end of the workflow's sequence as a single
	// document update and returns the updated workflow.
	AppendCard(ctx context.Context, workflowID string, card Card) (Workflow, error)
	// RemoveCard drops the first card with cardID as a single document
	// update. An unknown card id is not an error.
	RemoveCard(ctx context.Context, workflowID, cardID string) (Workflow, error)
}

// Store is the full Resource Store.
type Store interface {
	AccountStore
	BoardStore
	WorkflowStore
}
