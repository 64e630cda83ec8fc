// Command ledger-migrate applies or rolls back the ledger schema and can seed
// a demo order for local development.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"ms-klippekort/internal/config"
	"ms-klippekort/internal/database/migrations"
	"ms-klippekort/internal/klippekort"
	ledgerdb "ms-klippekort/internal/klippekort/db"
	"ms-klippekort/internal/logger"
	"ms-klippekort/internal/models"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
)

func main() {
	down := flag.Bool("down", false, "roll back all migrations")
	seed := flag.String("seed", "", "issue a demo punch card order to this owner")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	logger := logger.NewLogger("")
	defer logger.Close()

	ctx := context.Background()
	bunDB, err := ledgerdb.Open(cfg.Database)
	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to open database: %v", err))
	}
	defer bunDB.Close()
	if err := bunDB.PingContext(ctx); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to database: %v", err))
	}

	if cfg.Database.Driver == "sqlite" {
		if *down {
			logger.Fatal("MIGRATE", "-down is only supported for postgres")
		}
		if err := ledgerdb.CreateSchema(ctx, bunDB); err != nil {
			logger.Fatal("MIGRATE", fmt.Sprintf("Failed to create schema: %v", err))
		}
	} else {
		opts := migrations.DefaultOptions()
		opts.MigrationsDir = cfg.Database.MigrationsDir
		runner := migrations.NewRunner(bunDB, opts, logger)
		if err := runner.Initialize(); err != nil {
			logger.Fatal("MIGRATE", err.Error())
		}
		if *down {
			err = runner.MigrateDown()
		} else {
			err = runner.RunMigrations()
		}
		if err != nil {
			logger.Fatal("MIGRATE", err.Error())
		}
	}

	if *seed != "" && !*down {
		seedDemoOrder(ctx, bunDB, *seed, logger)
	}

	logger.Info("MIGRATE", "✅ Done.")
}

func intPtr(v int) *int { return &v }

func seedDemoOrder(ctx context.Context, bunDB *bun.DB, owner string, log *logger.Logger) {
	ledger := klippekort.NewLedger(ledgerdb.New(bunDB), nil, nil, nil, log, klippekort.Options{MaxRedeemRetries: 1})
	order := models.Order{
		OrderReference: fmt.Sprintf("DEMO-%d", time.Now().Unix()),
		Owner:          owner,
		BuyerName:      "Demo Buyer",
		Email:          owner,
		DatePurchased:  time.Now().UTC(),
		CaptureStatus:  "captured",
		Items: []models.OrderItem{
			{
				Name:       "Badstue (10 klipp)",
				Category:   models.CategoryKlippekort,
				Type:       models.TypeStampCard,
				Quantity:   1,
				Price:      900,
				StampTotal: intPtr(10),
			},
			{
				Name:          "Svømmehall",
				Category:      models.CategoryKlippekort,
				Type:          models.TypeStampCard,
				Quantity:      2,
				Price:         500,
				StampsPerUnit: 5,
			},
		},
	}

	cards, err := ledger.Issue(ctx, order)
	if err != nil {
		log.Fatal("SEED", fmt.Sprintf("Failed to seed demo order: %v", err))
	}
	for _, c := range cards {
		log.Info("SEED", fmt.Sprintf("Issued %s (%d klipp) to %s", c.ID, c.StampTotal, owner))
	}
}
