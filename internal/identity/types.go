package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidInput = errors.New("identity: invalid input")
	ErrNotFound     = errors.New("identity: not found")
	ErrConflict     = errors.New("identity: already exists")
)

// User is an identity record. PasswordHash never leaves the package in API
// responses; the JSON tag drops it defensively as well.
type User struct {
	RealID          string    `json:"real_id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone"`
	PasswordHash    string    `json:"-"`
	Role            string    `json:"role"`
	AssignedVillage int64     `json:"assigned_village,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// SupAccess holds the village set a super identity may act on. At most one
// row per super; absence means empty scope.
type SupAccess struct {
	UserID   string  `json:"user_id"`
	Villages []int64 `json:"village_list"`
}

// Store is the persistence boundary for identities and scope assignments.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	FindUser(ctx context.Context, realID string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsersByVillage(ctx context.Context, villageID int64) ([]*User, error)
	UpdateUser(ctx context.Context, u *User) error

	SupAccessFor(ctx context.Context, userID string) (*SupAccess, error)
	UpsertSupAccess(ctx context.Context, access *SupAccess) error

	// VillageExists backs registration: an assigned village must reference
	// a real village record.
	VillageExists(ctx context.Context, id int64) (bool, error)
}
