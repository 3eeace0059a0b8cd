package main

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/letterflow/letterflow/config"
	"github.com/letterflow/letterflow/internal/domain/entity"
	"github.com/letterflow/letterflow/pkg/helpers"
)

// Seeds a handful of subscribers for local development: two confirmed, one
// pending with a printed confirmation link, and one confirmed row whose
// stored email is broken so publish runs exercise the skip path.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := sql.Open("pgx", cfg.PostgresDSN())
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	confirmed := []struct{ email, name string }{
		{"alice@example.com", "Alice Example"},
		{"bob@example.com", "Bob Example"},
		{"not-an-email", "Broken Row"},
	}
	for _, s := range confirmed {
		id := upsertSubscriber(db, s.email, s.name, entity.StatusConfirmed)
		fmt.Printf("seeded confirmed subscriber: id=%s email=%s\n", id, s.email)
	}

	pendingID := upsertSubscriber(db, "carol@example.com", "Carol Pending", entity.StatusPendingConfirmation)
	token, err := helpers.GenSubscriptionToken()
	if err != nil {
		log.Fatalf("failed to generate token: %v", err)
	}
	if _, err := db.Exec(`
		INSERT INTO subscription_tokens (subscription_token, subscriber_id)
		VALUES ($1, $2)
	`, token, pendingID); err != nil {
		log.Fatalf("failed to seed token: %v", err)
	}
	fmt.Printf("seeded pending subscriber: id=%s email=carol@example.com\n", pendingID)
	fmt.Printf("confirm via: %s\n", cfg.ConfirmationURL(token))
}

func upsertSubscriber(db *sql.DB, email, name string, status entity.SubscriberStatus) string {
	var id string
	err := db.QueryRow(`
		INSERT INTO subscriptions (id, email, name, subscribed_at, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, status = EXCLUDED.status
		RETURNING id
	`, uuid.NewString(), email, name, time.Now().UTC(), string(status)).Scan(&id)
	if err != nil {
		log.Fatalf("failed to seed subscriber %s: %v", email, err)
	}
	return id
}
