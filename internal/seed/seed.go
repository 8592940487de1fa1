// Package seed provides database seeding utilities for development and testing.
package seed

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"registry/internal/guard"
	"registry/internal/models"
	"registry/internal/repository"
	"registry/internal/service"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumUsers     int
	NumOperators int
	NumRequests  int
	Service      string
	DefaultGroup string
	// Seed makes the generated data reproducible when non-zero.
	Seed int64
}

var (
	tiers      = []string{"T0", "T1", "T2", "T3"}
	countries  = []string{"US", "CH", "DE", "IT", "FR", "UK", "ES", "BR"}
	copyGroups = []string{"AnalysisOps", "DataOps", "Physics", "Tape"}
	// Statuses the agent side would leave behind.
	agentStatuses = []models.RequestStatus{
		models.StatusActivated,
		models.StatusCompleted,
		models.StatusRejected,
	}
)

// Seeder populates the identity and request tables with synthetic data.
type Seeder struct {
	db    *gorm.DB
	users repository.UserRepository
	faker *gofakeit.Faker
}

// NewSeeder creates a seeder bound to db.
func NewSeeder(db *gorm.DB, seed int64) *Seeder {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Seeder{
		db:    db,
		users: repository.NewUserRepository(db),
		faker: gofakeit.New(seed),
	}
}

// ClearAll removes every request and identity row.
func (s *Seeder) ClearAll() error {
	log.Println("🧹 Cleaning database...")
	tables := []string{
		"active_copies", "copy_request_items", "copy_requests",
		"active_deletions", "deletion_request_items", "deletion_requests",
		"sessions", "user_services", "services", "users",
	}
	for _, table := range tables {
		if err := s.db.Exec(fmt.Sprintf("DELETE FROM %s", table)).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// DN builds the slash-form certificate subject for a seeded user name.
func DN(name string) string {
	return "/DC=org/DC=registry/OU=Users/CN=" + name
}

// SeedUsers creates numUsers users and grants service to the first numOperators.
func (s *Seeder) SeedUsers(ctx context.Context, numUsers, numOperators int, serviceName string) ([]*models.User, error) {
	svc, err := s.users.EnsureService(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	users := make([]*models.User, 0, numUsers)
	seen := make(map[string]bool, numUsers)
	for len(users) < numUsers {
		name := strings.ToLower(s.faker.Username())
		if seen[name] {
			continue
		}
		seen[name] = true

		u := &models.User{Name: name, DN: DN(name)}
		if err := s.users.Create(ctx, u); err != nil {
			return nil, err
		}
		if len(users) < numOperators {
			if err := s.users.GrantService(ctx, u.ID, svc.ID); err != nil {
				return nil, err
			}
		}
		users = append(users, u)
	}

	log.Printf("👥 Created %d users (%d operators)\n", len(users), min(numOperators, numUsers))
	return users, nil
}

func (s *Seeder) site(wildcard bool) string {
	tier := tiers[s.faker.Number(0, len(tiers)-1)]
	country := countries[s.faker.Number(0, len(countries)-1)]
	if wildcard {
		return fmt.Sprintf("%s_%s_*", tier, country)
	}
	return fmt.Sprintf("%s_%s_%s", tier, country, strings.ToUpper(s.faker.LetterN(4)))
}

func (s *Seeder) items() []string {
	n := s.faker.Number(1, 5)
	dataset := fmt.Sprintf("/%s/%s-%s/RAW",
		s.faker.Noun(), strings.ToUpper(s.faker.LetterN(3)), s.faker.Date().Format("2006"))
	items := make([]string, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, fmt.Sprintf("%s#%s", dataset, s.faker.UUID()))
	}
	return items
}

// SeedRequests submits numRequests copy and deletion requests through the
// lifecycle engine, then moves some of them along as the agent would.
func (s *Seeder) SeedRequests(ctx context.Context, users []*models.User, numRequests int, defaultGroup string) error {
	if len(users) == 0 || numRequests <= 0 {
		return nil
	}

	svc := service.NewRequestService(
		repository.NewCopyRequestRepository(s.db),
		repository.NewDeletionRequestRepository(s.db),
		guard.NewLocalGuard(5*time.Second),
		nil,
		defaultGroup,
	)

	var copies, deletions int
	for i := 0; i < numRequests; i++ {
		u := users[s.faker.Number(0, len(users)-1)]
		caller := models.Caller{UserID: u.ID, UserName: u.Name, SessionID: 1, Authorized: true}
		items := s.items()

		if s.faker.Bool() {
			wildcard := s.faker.Bool()
			site := s.site(wildcard)
			params := service.RequestParams{Items: models.Items(items...), Site: &site}
			if wildcard {
				n := s.faker.Number(1, 3)
				params.N = &n
			}
			if s.faker.Bool() {
				group := copyGroups[s.faker.Number(0, len(copyGroups)-1)]
				params.Group = &group
			}
			res, err := svc.SubmitCopy(ctx, caller, params)
			if err != nil {
				return fmt.Errorf("seed copy request: %w", err)
			}
			if err := s.advance(&models.CopyRequest{}, res.Requests[0].ID); err != nil {
				return err
			}
			copies++
			continue
		}

		site := s.site(false)
		res, err := svc.SubmitDeletion(ctx, caller, service.RequestParams{Items: models.Items(items...), Site: &site})
		if err != nil {
			return fmt.Errorf("seed deletion request: %w", err)
		}
		if err := s.advance(&models.DeletionRequest{}, res.Requests[0].ID); err != nil {
			return err
		}
		deletions++
	}

	log.Printf("📦 Created %d copy and %d deletion requests\n", copies, deletions)
	return nil
}

// advance leaves roughly half the requests new and hands the rest an agent status.
func (s *Seeder) advance(model interface{}, id uint) error {
	if s.faker.Bool() {
		return nil
	}
	status := agentStatuses[s.faker.Number(0, len(agentStatuses)-1)]
	updates := map[string]interface{}{"status": status}
	if status == models.StatusRejected {
		updates["rejection_reason"] = s.faker.Sentence(6)
	}
	if err := s.db.Model(model).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("advance request %d: %w", id, err)
	}
	return nil
}

// Run seeds users and requests according to opts.
func (s *Seeder) Run(ctx context.Context, opts Options) error {
	users, err := s.SeedUsers(ctx, opts.NumUsers, opts.NumOperators, opts.Service)
	if err != nil {
		return err
	}
	return s.SeedRequests(ctx, users, opts.NumRequests, opts.DefaultGroup)
}
