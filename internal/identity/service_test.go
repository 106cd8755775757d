package identity_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"resqlink.org/internal/auth"
	"resqlink.org/internal/emergency"
	"resqlink.org/internal/identity"
	"resqlink.org/internal/policy"
	"resqlink.org/internal/store/memory"
)

func newService(t *testing.T) (*identity.Service, *memory.Store, *auth.Tokens) {
	t.Helper()
	store := memory.New()
	store.PutVillage(&emergency.Village{ID: 7, Name: "Kampung Tujuh"})
	tokens, err := auth.NewTokens("identity-test-secret")
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	svc, err := identity.NewService(store, tokens)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store, tokens
}

func validInput() identity.RegisterInput {
	return identity.RegisterInput{
		RealID:   "V1",
		Name:     "Aina",
		Email:    "aina@example.com",
		Phone:    "+60123456789",
		Password: "secret1234",
		Village:  7,
	}
}

func TestRegisterValidationOrder(t *testing.T) {
	svc, _, _ := newService(t)

	cases := []struct {
		name   string
		mutate func(*identity.RegisterInput)
		want   string
	}{
		{"short name", func(in *identity.RegisterInput) { in.Name = " a " }, "name"},
		{"bad email", func(in *identity.RegisterInput) { in.Email = "not-an-email" }, "email"},
		{"bad phone", func(in *identity.RegisterInput) { in.Phone = "12ab34" }, "phone"},
		{"bad id", func(in *identity.RegisterInput) { in.RealID = "v-1!" }, "id"},
		{"short password", func(in *identity.RegisterInput) { in.Password = "abc1" }, "password"},
		{"password without digit", func(in *identity.RegisterInput) { in.Password = "abcdefghij" }, "password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.Register(context.Background(), in)
			if !errors.Is(err, identity.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected first failing rule %q in error, got %q", tc.want, err)
			}
		})
	}

	// A name failure must win over a simultaneous email failure.
	in := validInput()
	in.Name = "x"
	in.Email = "broken"
	_, err := svc.Register(context.Background(), in)
	if err == nil || !strings.Contains(err.Error(), "name") {
		t.Fatalf("expected name rule to fire first, got %v", err)
	}
}

func TestRegisterDefaultsToVillager(t *testing.T) {
	svc, _, _ := newService(t)
	user, err := svc.Register(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Role != string(policy.RoleVillager) {
		t.Fatalf("self-registration must yield villager, got %q", user.Role)
	}
	if user.PasswordHash == "secret1234" {
		t.Fatal("password must be stored as a hash")
	}
}

func TestRegisterRejectsUnknownVillage(t *testing.T) {
	svc, _, _ := newService(t)

	in := validInput()
	in.Village = 42
	_, err := svc.Register(context.Background(), in)
	if !errors.Is(err, identity.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if !strings.Contains(err.Error(), "village") {
		t.Fatalf("expected village rule in error, got %q", err)
	}

	// Village 0 stays valid: registration without an assignment.
	in = validInput()
	in.Village = 0
	user, err := svc.Register(context.Background(), in)
	if err != nil {
		t.Fatalf("unassigned registration: %v", err)
	}
	if user.AssignedVillage != 0 {
		t.Fatalf("expected unassigned, got %d", user.AssignedVillage)
	}
}

func TestRegisterConflicts(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.Register(context.Background(), validInput()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	dup := validInput()
	dup.RealID = "V2"
	if _, err := svc.Register(context.Background(), dup); !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("duplicate email: expected ErrConflict, got %v", err)
	}

	dup = validInput()
	dup.Email = "other@example.com"
	if _, err := svc.Register(context.Background(), dup); !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("duplicate real_id: expected ErrConflict, got %v", err)
	}
}

func TestLoginUniformFailure(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.Register(context.Background(), validInput()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, _, _, unknownErr := svc.Login(context.Background(), "nobody@example.com", "secret1234")
	_, _, _, wrongErr := svc.Login(context.Background(), "aina@example.com", "wrong-pass1")

	if !errors.Is(unknownErr, auth.ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", unknownErr)
	}
	if !errors.Is(wrongErr, auth.ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatal("the two failure modes must be indistinguishable")
	}
}

func TestLoginIssuesRoleToken(t *testing.T) {
	svc, _, tokens := newService(t)
	if _, err := svc.Register(context.Background(), validInput()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	user, token, _, err := svc.Login(context.Background(), "aina@example.com", "secret1234")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.RealID != "V1" {
		t.Fatalf("unexpected user %q", user.RealID)
	}
	claims, err := tokens.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "V1" || claims.Role != string(policy.RoleVillager) {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestResolveCallerSuperScope(t *testing.T) {
	svc, store, _ := newService(t)

	if _, err := svc.Seed(context.Background(), identity.SeedInput{
		RealID:   "SUPER01",
		Name:     "Super Officer",
		Email:    "officer@example.com",
		Phone:    "0123456789",
		Password: "abcd1234",
		Role:     policy.RoleSuper,
		Villages: []int64{7, 9},
	}); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	caller, err := svc.ResolveCaller(context.Background(), "SUPER01")
	if err != nil {
		t.Fatalf("ResolveCaller: %v", err)
	}
	if caller.Role != policy.RoleSuper {
		t.Fatalf("unexpected role %q", caller.Role)
	}
	if !caller.Scope.Contains(7) || !caller.Scope.Contains(9) || caller.Scope.Contains(12) {
		t.Fatalf("unexpected scope: %+v", caller.Scope)
	}

	// Re-seeding converges rather than conflicting.
	if _, err := svc.Seed(context.Background(), identity.SeedInput{
		RealID:   "SUPER01",
		Email:    "officer@example.com",
		Password: "abcd1234",
		Role:     policy.RoleSuper,
		Villages: []int64{7},
	}); err != nil {
		t.Fatalf("re-Seed: %v", err)
	}
	access, err := store.SupAccessFor(context.Background(), "SUPER01")
	if err != nil {
		t.Fatalf("SupAccessFor: %v", err)
	}
	if len(access.Villages) != 1 || access.Villages[0] != 7 {
		t.Fatalf("unexpected villages after re-seed: %v", access.Villages)
	}
}

func TestResolveCallerSuperWithoutAssignment(t *testing.T) {
	svc, store, _ := newService(t)
	_ = store.CreateUser(context.Background(), &identity.User{
		RealID: "SUPER02",
		Email:  "bare@example.com",
		Role:   string(policy.RoleSuper),
	})

	caller, err := svc.ResolveCaller(context.Background(), "SUPER02")
	if err != nil {
		t.Fatalf("absence of scope must not be an error: %v", err)
	}
	if len(caller.Scope.Villages) != 0 {
		t.Fatalf("expected empty scope, got %+v", caller.Scope)
	}
}
