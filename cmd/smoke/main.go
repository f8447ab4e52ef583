package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"smartwaste.org/internal/api"
	"smartwaste.org/internal/dashboard"
	"smartwaste.org/internal/kv"
	"smartwaste.org/internal/requests"
	"smartwaste.org/internal/session"
)

// smoke walks one pickup from submission to collection against a live
// backend seeded with the demo accounts.
func main() {
	base := os.Getenv("SMARTWASTE_API_URL")
	if base == "" {
		base = "http://localhost:8080/api"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user := open(ctx, base, "user@system.com", "User@123")
	admin := open(ctx, base, "admin@system.com", "Admin@123")
	collector := open(ctx, base, "karan@example.com", "Collector@123")

	before, _ := user.Session().Identity()

	kg := 2.5
	created, err := user.Submit(ctx, requests.Draft{ZoneID: 3, Category: api.CategoryPlastic, WeightKg: &kg, Address: "12 Elm St"})
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	if created.Status != api.StatusPending || created.Assignment() != api.Unassigned {
		log.Fatalf("unexpected new request: %s/%s", created.Status, created.Assignment())
	}

	if _, err := admin.Load(ctx); err != nil {
		log.Fatalf("admin load: %v", err)
	}
	admin.Select(created.ID, 7)
	assigned, err := admin.Assign(ctx, created.ID)
	if err != nil {
		log.Fatalf("assign: %v", err)
	}
	if assigned.CollectorID == nil || *assigned.CollectorID != 7 {
		log.Fatalf("request #%d not assigned to collector 7", created.ID)
	}

	if _, err := collector.Load(ctx); err != nil {
		log.Fatalf("collector load: %v", err)
	}
	for _, next := range []api.Status{api.StatusInProgress, api.StatusCollected} {
		if _, err := collector.Advance(ctx, created.ID, next, nil); err != nil {
			log.Fatalf("advance to %s: %v", next, err)
		}
	}

	v, err := user.Load(ctx)
	if err != nil {
		log.Fatalf("user load: %v", err)
	}
	uv := v.(*dashboard.UserView)
	if uv.Points != before.Points+10 {
		log.Fatalf("points: got %d, want %d", uv.Points, before.Points+10)
	}
	if len(uv.Transactions) == 0 || uv.Transactions[0].Type != api.TransactionAdd {
		log.Fatalf("no ADD transaction after collection")
	}

	fmt.Printf("smoke test passed: request #%d collected, points %d -> %d\n", created.ID, before.Points, uv.Points)
}

func open(ctx context.Context, base, email, password string) *dashboard.Dashboard {
	client := api.New(base)
	sess := session.NewManager(client, kv.NewMemory())
	if res := sess.Login(ctx, email, password); !res.OK {
		log.Fatalf("login %s: %s", email, res.Message)
	}
	return dashboard.New(client, sess)
}
