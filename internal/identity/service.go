// Package identity implements registration, login and caller resolution.
// Login failures are uniform by construction: the handler layer can only
// ever observe auth.ErrInvalidCredentials, regardless of which credential
// was wrong.
package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"resqlink.org/internal/auth"
	"resqlink.org/internal/policy"
)

var (
	emailPattern  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern  = regexp.MustCompile(`^[0-9+\- ]{9,15}$`)
	realIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	digitPattern  = regexp.MustCompile(`[0-9]`)
)

// Service is the authenticator: it validates credentials against the user
// store and delegates token issuance to auth.Tokens.
type Service struct {
	store  Store
	tokens *auth.Tokens
	now    func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source. Only intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs the authenticator.
func NewService(store Store, tokens *auth.Tokens, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity: store is required")
	}
	if tokens == nil {
		return nil, errors.New("identity: token service is required")
	}
	s := &Service{store: store, tokens: tokens, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterInput is the public self-registration payload. Role is not part of
// it: self-registration always produces a villager.
type RegisterInput struct {
	RealID   string
	Name     string
	Email    string
	Phone    string
	Password string
	Village  int64
}

// Register validates and creates a villager identity. The validation rules
// run in a fixed order and the first failure wins, so the caller always sees
// the earliest problem in the chain.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if err := validateRegistration(in); err != nil {
		return nil, err
	}
	// Village 0 means unassigned; anything else must reference a real
	// village record.
	if in.Village != 0 {
		exists, err := s.store.VillageExists(ctx, in.Village)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: unknown village", ErrInvalidInput)
		}
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &User{
		RealID:          strings.TrimSpace(in.RealID),
		Name:            strings.TrimSpace(in.Name),
		Email:           strings.TrimSpace(strings.ToLower(in.Email)),
		Phone:           strings.TrimSpace(in.Phone),
		PasswordHash:    hash,
		Role:            string(policy.RoleVillager),
		AssignedVillage: in.Village,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func validateRegistration(in RegisterInput) error {
	if len(strings.TrimSpace(in.Name)) < 2 {
		return fmt.Errorf("%w: name must be at least 2 characters", ErrInvalidInput)
	}
	if !emailPattern.MatchString(strings.TrimSpace(in.Email)) {
		return fmt.Errorf("%w: email is malformed", ErrInvalidInput)
	}
	if !phonePattern.MatchString(strings.TrimSpace(in.Phone)) {
		return fmt.Errorf("%w: phone is malformed", ErrInvalidInput)
	}
	if !realIDPattern.MatchString(strings.TrimSpace(in.RealID)) {
		return fmt.Errorf("%w: id must be alphanumeric", ErrInvalidInput)
	}
	if len(in.Password) < 8 || !digitPattern.MatchString(in.Password) {
		return fmt.Errorf("%w: password must be at least 8 characters with a digit", ErrInvalidInput)
	}
	return nil
}

// Login authenticates by email and issues a session token. The lookup uses
// the email alone; the password is only ever compared through the hash.
func (s *Service) Login(ctx context.Context, email, password string) (*User, string, time.Time, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, "", time.Time{}, auth.ErrInvalidCredentials
	}
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", time.Time{}, auth.ErrInvalidCredentials
		}
		return nil, "", time.Time{}, err
	}
	if err := auth.VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, auth.ErrInvalidCredentials
	}
	role, err := policy.ParseRole(user.Role)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	token, expiresAt, err := s.tokens.Issue(user.RealID, role)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return user, token, expiresAt, nil
}

// ResolveCaller turns validated token claims into a policy caller with its
// scope loaded from storage. The role comes from the stored identity, not
// the claim, so a role change takes effect on the next request.
func (s *Service) ResolveCaller(ctx context.Context, realID string) (policy.Caller, error) {
	user, err := s.store.FindUser(ctx, realID)
	if err != nil {
		return policy.Caller{}, err
	}
	role, err := policy.ParseRole(user.Role)
	if err != nil {
		return policy.Caller{}, err
	}
	var supVillages []int64
	if role == policy.RoleSuper {
		access, err := s.store.SupAccessFor(ctx, user.RealID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return policy.Caller{}, err
		}
		if access != nil {
			supVillages = access.Villages
		}
	}
	return policy.Caller{
		RealID: user.RealID,
		Role:   role,
		Scope:  policy.Resolve(role, user.AssignedVillage, supVillages),
	}, nil
}

// SeedInput is the trusted operator path for creating head and super
// identities. It bypasses the public validation chain and is wired only into
// the cmd tools, never into a route.
type SeedInput struct {
	RealID   string
	Name     string
	Email    string
	Phone    string
	Password string
	Role     policy.Role
	Village  int64
	Villages []int64
}

// Seed creates or updates a privileged identity and, for supers, its scope
// assignment. Idempotent: re-running with the same input converges on the
// same state.
func (s *Service) Seed(ctx context.Context, in SeedInput) (*User, error) {
	if strings.TrimSpace(in.RealID) == "" || strings.TrimSpace(in.Email) == "" {
		return nil, fmt.Errorf("%w: real_id and email are required", ErrInvalidInput)
	}
	if in.Role != policy.RoleHead && in.Role != policy.RoleSuper {
		return nil, fmt.Errorf("%w: seed role must be head or super", ErrInvalidInput)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.store.FindUserByEmail(ctx, strings.TrimSpace(strings.ToLower(in.Email)))
	switch {
	case errors.Is(err, ErrNotFound):
		user = &User{
			RealID:          strings.TrimSpace(in.RealID),
			Name:            strings.TrimSpace(in.Name),
			Email:           strings.TrimSpace(strings.ToLower(in.Email)),
			Phone:           strings.TrimSpace(in.Phone),
			PasswordHash:    hash,
			Role:            string(in.Role),
			AssignedVillage: in.Village,
			CreatedAt:       s.now().UTC(),
		}
		if err := s.store.CreateUser(ctx, user); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		user.Role = string(in.Role)
		user.PasswordHash = hash
		if in.Village != 0 {
			user.AssignedVillage = in.Village
		}
		if err := s.store.UpdateUser(ctx, user); err != nil {
			return nil, err
		}
	}

	if in.Role == policy.RoleSuper {
		if err := s.store.UpsertSupAccess(ctx, &SupAccess{
			UserID:   user.RealID,
			Villages: in.Villages,
		}); err != nil {
			return nil, err
		}
	}
	return user, nil
}
