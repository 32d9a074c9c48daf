package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"bimoi/backend/internal/constants"
	"bimoi/backend/internal/core"
	"bimoi/backend/internal/domain"
	"bimoi/backend/internal/graph"
	apperrors "bimoi/backend/pkg/errors"
	"bimoi/backend/pkg/config"
	"bimoi/backend/pkg/logger"
)

type demoContact struct {
	card    domain.ContactCard
	context string
}

// demo data: two accounts that both know Sam, who later registers
var (
	ann = demoUser{externalID: "demo-ann", name: "Ann"}
	ben = demoUser{externalID: "demo-ben", name: "Ben"}

	demo = map[demoUser][]demoContact{
		ann: {
			{domain.ContactCard{Name: "Sam", ExternalID: "demo-sam", Channel: constants.ChannelWeb}, "Frontend engineer, very strong in React"},
			{domain.ContactCard{Name: "Lia", PhoneNumber: "+14155550101"}, "Designer, great at UX"},
		},
		ben: {
			{domain.ContactCard{Name: "Samuel", ExternalID: "demo-sam", Channel: constants.ChannelWeb}, "Climbing partner on Tuesdays"},
		},
	}
)

type demoUser struct {
	externalID string
	name       string
}

func main() {
	reset := flag.Bool("reset", false, "Delete all contacts, accounts and pending cards first")
	skipConfirm := flag.Bool("y", false, "Skip confirmation prompt")
	flag.Parse()

	// Initialize logger
	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting database seeding...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()
	driver, err := graph.NewDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		log.Fatal("Failed to connect to Neo4j", zap.Error(err))
	}
	repo := graph.NewRepository(driver, graph.WithDatabase(cfg.Neo4jDatabase))
	defer repo.Close()

	if err := repo.EnsureSchema(ctx, false); err != nil {
		log.Fatal("Failed to ensure schema", zap.Error(err))
	}

	if *reset {
		if !*skipConfirm && !confirm("This deletes every account and contact. Continue? [y/N] ") {
			log.Info("Aborted")
			os.Exit(0)
		}
		n, err := repo.Reset(ctx)
		if err != nil {
			log.Fatal("Failed to reset data", zap.Error(err))
		}
		log.Info("All data deleted", zap.Int("nodes", n))
	}

	c := core.New(repo, core.Options{Channels: cfg.IdentityChannels, PhoneRegion: cfg.PhoneDefaultRegion})

	for _, user := range []demoUser{ann, ben} {
		res, err := c.ResolveIdentity(ctx, constants.ChannelWeb, user.externalID, user.name)
		if err != nil {
			log.Fatal("Failed to resolve demo account", zap.String("user", user.name), zap.Error(err))
		}
		for _, dc := range demo[user] {
			_, err := c.CreateContact(ctx, res.AccountID, dc.card, dc.context)
			if apperrors.IsErrorType(err, apperrors.ErrorTypeDuplicate) {
				log.Info("Contact already seeded", zap.String("owner", user.name), zap.String("contact", dc.card.Name))
				continue
			}
			if err != nil {
				log.Fatal("Failed to seed contact", zap.String("contact", dc.card.Name), zap.Error(err))
			}
			log.Info("Seeded contact", zap.String("owner", user.name), zap.String("contact", dc.card.Name))
		}
	}

	// Sam registers last, promoting the contact node Ann created
	res, err := c.ResolveIdentity(ctx, constants.ChannelWeb, "demo-sam", "Sam")
	if err != nil {
		log.Fatal("Failed to resolve demo account", zap.String("user", "Sam"), zap.Error(err))
	}
	log.Info("Seeding completed", zap.String("sam_account_id", res.AccountID), zap.Bool("new", res.IsNewAccount))
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	var response string
	_, _ = fmt.Scanln(&response)
	return strings.EqualFold(strings.TrimSpace(response), "y")
}
