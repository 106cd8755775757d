// seed-super creates or updates a privileged identity (head or super)
// directly against the database. It is the only way privileged roles enter
// the system: the public registration route always produces villagers.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"resqlink.org/internal/auth"
	"resqlink.org/internal/identity"
	"resqlink.org/internal/policy"
	"resqlink.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn      = flag.String("dsn", os.Getenv("RESQLINK_PG_DSN"), "PostgreSQL DSN")
		realID   = flag.String("id", "", "National identity number")
		name     = flag.String("name", "", "Display name")
		email    = flag.String("email", "", "Login email")
		phone    = flag.String("phone", "", "Contact phone")
		password = flag.String("password", "", "Login password")
		role     = flag.String("role", "super", "Role to assign: head or super")
		village  = flag.Int64("village", 0, "Assigned village (head role)")
		villages = flag.String("villages", "", "Comma-separated village ids (super scope)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or RESQLINK_PG_DSN")
	}
	if *realID == "" || *email == "" || *password == "" {
		log.Fatal("-id, -email and -password are required")
	}
	parsedRole, err := policy.ParseRole(*role)
	if err != nil || (parsedRole != policy.RoleHead && parsedRole != policy.RoleSuper) {
		log.Fatalf("role must be head or super, got %q", *role)
	}

	var supVillages []int64
	if *villages != "" {
		for _, part := range strings.Split(*villages, ",") {
			v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				log.Fatalf("invalid village id %q", part)
			}
			supVillages = append(supVillages, v)
		}
	}

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	// The token service is unused here, but the identity service requires
	// one; any secret will do.
	tokens, err := auth.NewTokens("seed-only")
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}
	svc, err := identity.NewService(store, tokens)
	if err != nil {
		log.Fatalf("identity: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	user, err := svc.Seed(ctx, identity.SeedInput{
		RealID:   *realID,
		Name:     *name,
		Email:    *email,
		Phone:    *phone,
		Password: *password,
		Role:     parsedRole,
		Village:  *village,
		Villages: supVillages,
	})
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	log.Printf("seeded %s %s (%s)", user.Role, user.RealID, user.Email)
}
