package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	env := getEnv("CMKT_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: CMKT_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "carbonmkt")
	user := getEnv("POSTGRES_USER", "carbonmkt")
	password := getEnv("POSTGRES_PASSWORD", "carbonmkt")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := seedProjects(ctx, pool); err != nil {
		log.Fatalf("seed projects: %v", err)
	}
	fmt.Println("✓ Projects seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedDemoListings(ctx, pool); err != nil {
			log.Fatalf("seed demo listings: %v", err)
		}
		fmt.Println("✓ Demo listings seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func seedProjects(ctx context.Context, pool *pgxpool.Pool) error {
	projects := []struct {
		assetID     uint64
		name        string
		location    string
		projectType string
		standard    string
		vintage     int
		ipfsHash    string
		owner       string
	}{
		{812345001, "Mangrove Restoration", "Kenya", "blue_carbon", "VCS", 2023, "QmYwAPJzv5CZsnAzt8auVZRn1pfejgNi3mrz85vQq1YTEx", demoSellerWallet},
		{812345002, "Rainforest Conservation", "Brazil", "redd_plus", "VCS", 2022, "QmT78zSuBmuS4z925WZfrqQ1qHaJ56DQaTfyMUF7F8ff5o", demoSellerWallet},
		{812345003, "Community Cookstoves", "Uganda", "household_devices", "Gold Standard", 2024, "QmbWqxBEKC3P8tqsKc98xmWNzrzDtRLMiMPL8wBuTGsMnR", demoSellerWallet},
	}

	for _, p := range projects {
		_, err := pool.Exec(ctx, `
			INSERT INTO projects (asset_id, name, location, project_type, standard, vintage_year, ipfs_hash, current_owner, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'listed')
			ON CONFLICT (asset_id) DO UPDATE
			SET name = EXCLUDED.name,
			    location = EXCLUDED.location,
			    project_type = EXCLUDED.project_type,
			    standard = EXCLUDED.standard,
			    vintage_year = EXCLUDED.vintage_year,
			    ipfs_hash = EXCLUDED.ipfs_hash,
			    updated_at = now()
		`, p.assetID, p.name, p.location, p.projectType, p.standard, p.vintage, p.ipfsHash, p.owner)
		if err != nil {
			return err
		}
	}

	return nil
}
