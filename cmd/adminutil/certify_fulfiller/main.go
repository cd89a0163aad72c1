package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/sudo-init-do/farmhand/internal/app"
	"github.com/sudo-init-do/farmhand/internal/auth"
	"github.com/sudo-init-do/farmhand/internal/config"
	"github.com/sudo-init-do/farmhand/internal/user"
)

// certify_fulfiller sets a fulfiller's certification by user id.
// Usage:
//
//	go run ./cmd/adminutil/certify_fulfiller -user <id> [-status approved|rejected|pending]
func main() {
	userID := flag.String("user", "", "ID of the fulfiller to certify")
	status := flag.String("status", string(user.CertificationApproved), "Certification to set")
	flag.Parse()

	if *userID == "" {
		log.Fatalf("usage: go run ./cmd/adminutil/certify_fulfiller -user <id> [-status approved]")
	}
	cert := user.Certification(*status)
	if !cert.Valid() {
		log.Fatalf("unknown certification %q", *status)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()
	store, err := app.OpenStore(ctx, cfg.Storage, config.NewLogger(cfg))
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	users := user.NewService(store, cfg.Optimistic.Policy())
	p, err := users.Get(ctx, *userID)
	if err != nil {
		log.Fatalf("no profile for user %s: %v", *userID, err)
	}
	if p.Role != auth.RoleFulfiller {
		log.Fatalf("user %s is a %s, not a fulfiller", *userID, p.Role)
	}
	if _, err := users.Certify(ctx, *userID, cert); err != nil {
		log.Fatalf("failed to certify user: %v", err)
	}

	fmt.Printf("User %s certification set to %s.\n", *userID, cert)
}
