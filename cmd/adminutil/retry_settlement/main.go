package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/sudo-init-do/farmhand/internal/app"
	"github.com/sudo-init-do/farmhand/internal/config"
)

// retry_settlement re-drives settlement for one order, or retries the payout
// of every settlement left in payout_failed.
// Usage:
//
//	go run ./cmd/adminutil/retry_settlement -order <id>
//	go run ./cmd/adminutil/retry_settlement -failed
func main() {
	orderID := flag.String("order", "", "Order to settle")
	failed := flag.Bool("failed", false, "Retry payouts of all failed settlements")
	flag.Parse()

	if *orderID == "" && !*failed {
		log.Fatalf("usage: go run ./cmd/adminutil/retry_settlement -order <id> | -failed")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()
	a, err := app.New(ctx, cfg, config.NewLogger(cfg))
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	if *orderID != "" {
		s, err := a.Settlements.Settle(ctx, *orderID)
		if err != nil {
			log.Fatalf("settle %s: %v", *orderID, err)
		}
		fmt.Printf("Order %s settlement %s: %s\n", *orderID, s.ID, s.Status)
		return
	}

	items, err := a.Settlements.ListFailed(ctx, 100)
	if err != nil {
		log.Fatalf("list failed settlements: %v", err)
	}
	retried, stillFailing := 0, 0
	for _, s := range items {
		if _, err := a.Settlements.RetryPayout(ctx, s.OrderID); err != nil {
			stillFailing++
			fmt.Printf("Order %s: payout still failing: %v\n", s.OrderID, err)
			continue
		}
		retried++
	}
	fmt.Printf("Retried %d payouts, %d still failing.\n", retried, stillFailing)
}
