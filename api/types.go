package api

import (
	"context"

	"kanban-api/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	CreateBoard(ctx context.Context, name, ownerID string, members []string) (domain.Board, error)
	FetchBoard(ctx context.Context, boardID string) (domain.Board, error)
	FetchBoardsPage(ctx context.Context, userID string, startAfter int64, limit int) ([]domain.Board, error)
	DeleteBoard(ctx context.Context, b domain.Board) error
	AddMembers(ctx context.Context, boardID string, subjects []string) (domain.Board, error)
	RemoveMember(ctx context.Context, boardID, subject string) (domain.Board, error)

	FetchColumns(ctx context.Context, boardID string) ([]domain.Column, error)
	UpsertColumn(ctx context.Context, boardID, columnID string, patch domain.ColumnPatch) (domain.Column, bool, error)

	FetchTasks(ctx context.Context, boardID, columnID string) ([]domain.Task, error)
	CreateTask(ctx context.Context, boardID, columnID, title string, order int) (domain.Task, error)
	UpdateTask(ctx context.Context, boardID, columnID, taskID string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, boardID, columnID, taskID string) error

	EnsureUser(ctx context.Context, ident domain.Identity) error
	FetchUser(ctx context.Context, subject string) (domain.User, error)
	LookupUserByEmail(ctx context.Context, email string) (domain.User, error)
	UpdateDisplayName(ctx context.Context, subject, name string) (domain.User, error)
}

// Authenticator is implemented by types able to extract caller identities
// from headers.
type Authenticator interface {
	IdentityFromAuthHeader(string) (domain.Identity, error)
}

// Listener establishes the live watch tree for a board.
type Listener interface {
	Listen(ctx context.Context, boardID string) error
}

// errorResponse is the error body shape shared by every handler.
type errorResponse struct {
	Error string `json:"error"`
}
