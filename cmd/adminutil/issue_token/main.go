package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/sudo-init-do/farmhand/internal/auth"
	"github.com/sudo-init-do/farmhand/internal/config"
)

// issue_token signs a bearer token for operator use, e.g. an admin session
// before the identity service is wired in.
// Usage:
//
//	go run ./cmd/adminutil/issue_token -user ops-1 -role admin [-ttl 1h]
func main() {
	userID := flag.String("user", "", "User ID to put in the token")
	role := flag.String("role", auth.RoleAdmin, "Role to put in the token")
	ttl := flag.Duration("ttl", time.Hour, "Token lifetime")
	flag.Parse()

	if *userID == "" {
		log.Fatalf("usage: go run ./cmd/adminutil/issue_token -user <id> [-role admin] [-ttl 1h]")
	}
	if !auth.ValidRole(*role) {
		log.Fatalf("unknown role %q", *role)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	token, err := auth.NewJWTProvider(cfg.JWTSecret).Issue(auth.Identity{UserID: *userID, Role: *role}, *ttl)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	fmt.Println(token)
}
