package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lalith-99/talksphere/internal/models"
)

// Sentinel errors shared by every implementation. Reads that find nothing
// return nil, nil; writes that cannot find their target return ErrNotFound.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("not authorized")
	ErrConflict     = errors.New("already exists")
)

// ConversationRepository is the message log.
//
// Every method that touches a conversation identifies it with a
// models.Selector, never a row id, so callers cannot address a
// conversation that differs from the routing data of its messages.
type ConversationRepository interface {
	// EnsurePublic creates the public conversation if it does not exist.
	// Safe to call concurrently from several processes.
	EnsurePublic(ctx context.Context) error

	// AppendMessage locates or creates the conversation for sel and appends
	// msg in one atomic step. The returned copy carries ID, ConversationID
	// and CreatedAt.
	AppendMessage(ctx context.Context, sel models.Selector, msg models.Message) (*models.Message, error)

	// FetchPublic, FetchPrivate and FetchGroup return the log ordered by
	// CreatedAt then ID. A missing conversation yields an empty slice.
	FetchPublic(ctx context.Context) ([]models.Message, error)
	FetchPrivate(ctx context.Context, a, b string) ([]models.Message, error)
	FetchGroup(ctx context.Context, groupName string) ([]models.Message, error)

	// GetMessage returns nil, nil when the message does not exist.
	GetMessage(ctx context.Context, id int64) (*models.Message, error)

	// DeleteMessage removes a message if requester may delete it and returns
	// the removed row. ErrNotFound and ErrUnauthorized leave the log untouched.
	DeleteMessage(ctx context.Context, id int64, requester models.Requester) (*models.Message, error)
}

// UserRepository handles user records.
type UserRepository interface {
	// Create inserts a new user. ErrConflict if the handle is taken.
	Create(ctx context.Context, u models.User) (*models.User, error)

	// UpsertProfile creates the user if missing and refreshes non-empty
	// name and email fields otherwise.
	UpsertProfile(ctx context.Context, userName, name, email string) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByUserName(ctx context.Context, userName string) (*models.User, error)

	// List returns every user ordered by display name.
	List(ctx context.Context) ([]models.User, error)

	SetStatus(ctx context.Context, userName string, status models.Status) error
	SetAvatar(ctx context.Context, userName, avatar string) error
}

// GroupRepository owns group membership.
type GroupRepository interface {
	// Create inserts the group with its creator as the first member.
	// ErrConflict if the name is taken.
	Create(ctx context.Context, name, createdBy string, members []string) (*models.Group, error)

	// Get returns nil, nil when the group does not exist.
	Get(ctx context.Context, name string) (*models.Group, error)

	// Members is the fresh membership read used by delivery.
	// ErrNotFound when the group does not exist.
	Members(ctx context.Context, name string) ([]string, error)

	AddMember(ctx context.Context, name, userName string) error
	RemoveMember(ctx context.Context, name, userName string) error

	// ListForUser returns the groups userName belongs to, by name.
	ListForUser(ctx context.Context, userName string) ([]models.Group, error)
}
