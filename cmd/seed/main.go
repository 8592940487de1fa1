// Command main runs the database seeder for the request registry.
package main

import (
	"context"
	"flag"
	"log"

	"registry/internal/config"
	"registry/internal/database"
	"registry/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 20, "Number of users to create")
	numOperators := flag.Int("operators", 3, "Number of users granted the registry service")
	numRequests := flag.Int("requests", 100, "Number of copy and deletion requests to create")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	randSeed := flag.Int64("seed", 0, "Random seed (0 picks one)")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")
	log.Printf("Target: %d users, %d operators, %d requests, clean=%v\n", *numUsers, *numOperators, *numRequests, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	s := seed.NewSeeder(db, *randSeed)
	if *shouldClean {
		if err := s.ClearAll(); err != nil {
			log.Fatalf("❌ Cleanup failed: %v", err)
		}
	}

	err = s.Run(context.Background(), seed.Options{
		NumUsers:     *numUsers,
		NumOperators: *numOperators,
		NumRequests:  *numRequests,
		Service:      cfg.RegistryService,
		DefaultGroup: cfg.DefaultCopyGroup,
	})
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Println("✨ All done! Seeded users authenticate with DNs of the form " + seed.DN("<name>"))
}
