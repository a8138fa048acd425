// seed inserts a confirmed development user for local testing.
// Idempotent: skips the insert if dev@example.com already exists.
package main

import (
	"context"
	"log"
	"os"

	"cryptoforum/backend/internal/config"
	"cryptoforum/backend/internal/db"
	"cryptoforum/backend/internal/security"
	"cryptoforum/backend/internal/user/contract"
	userrepo "cryptoforum/backend/internal/user/repository"
	userservice "cryptoforum/backend/internal/user/service"
)

const (
	devUserEmail = "dev@example.com"
	devUsername  = "devuser"
	devPassword  = "Dev-Password-123"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	repo := userrepo.NewPostgresRepository(conn)
	existing, err := repo.GetByEmail(ctx, devUserEmail)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping.", devUserEmail)
		os.Exit(0)
	}

	profiles := userservice.NewProfileService(repo, security.NewHasher(cfg.BcryptCost))
	created, err := profiles.Create(ctx, contract.CreateRequest{Email: devUserEmail, Username: devUsername, Password: devPassword})
	if err != nil {
		log.Fatalf("create dev user: %v", err)
	}
	if _, err := profiles.Confirm(ctx, created.ConfirmationToken); err != nil {
		log.Fatalf("confirm dev user: %v", err)
	}
	log.Printf("Seeded %s (id %s) with password %s", devUserEmail, created.UserID, devPassword)
}
