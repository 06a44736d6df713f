package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// User represents an account.
type User struct {
	ID           int64
	Email        string
	Username     string
	PasswordHash string // empty for accounts created through OIDC
	OIDCIssuer   string
	OIDCSubject  string
	CreatedAt    time.Time
}

// NewUser carries the fields needed to create an account and its profile.
type NewUser struct {
	Email        string
	Username     string
	PasswordHash string
	OIDCIssuer   string
	OIDCSubject  string
	DisplayName  string
}

// Profile is the editable, publicly visible part of a user.
type Profile struct {
	UserID      int64
	DisplayName string
	Bio         string
	PhotoData   string // data URL, empty when no photo is set
	UpdatedAt   time.Time
}

// Friend is one direction of a symmetric friendship, joined with the friend's public fields.
type Friend struct {
	UserID    int64
	FriendID  int64
	CreatedAt time.Time

	FriendUsername    string
	FriendDisplayName string
	FriendPhotoData   string
}

// Message represents a persisted chat message.
type Message struct {
	ID              int64
	ConversationKey string
	SenderID        int64
	Text            string
	DisplayName     string // sender's display name at send time
	CreatedAt       time.Time
}

// UserStore handles account persistence.
type UserStore interface {
	// CreateUser creates an account and its profile in one transaction.
	// Returns ErrConflict when the email, username or OIDC identity is taken.
	CreateUser(ctx context.Context, u *NewUser) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByEmail retrieves a user by email (case-insensitive).
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// GetUserByUsername retrieves a user by exact username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// GetUserByOIDC retrieves a user linked to an external identity.
	GetUserByOIDC(ctx context.Context, issuer, subject string) (*User, error)

	// SearchUsers returns users whose username contains query, ordered by username.
	SearchUsers(ctx context.Context, query string, limit int) ([]*User, error)
}

// ProfileStore handles profile persistence.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID int64) (*Profile, error)
	UpdateProfile(ctx context.Context, p *Profile) error
}

// FriendStore handles friendship persistence.
// A friendship is stored as two rows, one per direction.
type FriendStore interface {
	// AddFriendship writes both directions atomically. Returns ErrConflict if they are already friends.
	AddFriendship(ctx context.Context, userID, friendID int64) error

	// RemoveFriendship deletes both directions. Returns ErrNotFound if they were not friends.
	RemoveFriendship(ctx context.Context, userID, friendID int64) error

	// ListFriends lists the friends of userID ordered by username.
	ListFriends(ctx context.Context, userID int64) ([]*Friend, error)

	// ListFriendIDs lists the IDs of userID's friends.
	ListFriendIDs(ctx context.Context, userID int64) ([]int64, error)

	// IsFriend checks whether userID has friendID as a friend.
	IsFriend(ctx context.Context, userID, friendID int64) (bool, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message and sets its ID.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// DeleteMessage removes a message. Returns ErrNotFound if it does not exist.
	DeleteMessage(ctx context.Context, id int64) error

	// ListMessages retrieves messages of a conversation in chronological order.
	// If beforeID is provided, returns messages older than that ID.
	ListMessages(ctx context.Context, conversationKey string, limit int, beforeID *int64) ([]*Message, error)
}

// TokenStore tracks revoked access tokens until they expire.
type TokenStore interface {
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	// PurgeExpiredTokens drops revocations whose tokens have expired anyway.
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ProfileStore
	FriendStore
	MessageStore
	TokenStore

	// Ping checks that the database is reachable.
	Ping(ctx context.Context) error

	// Close closes the underlying database connection.
	Close() error
}
