// Package main runs the contractor DNA analysis as a one-shot batch job,
// typically from cron or a manual trigger.
package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/quotely/pricelearn/internal/calibration"
	"github.com/quotely/pricelearn/internal/config"
	"github.com/quotely/pricelearn/internal/dna"
	"github.com/quotely/pricelearn/internal/scoring"
	"github.com/quotely/pricelearn/internal/store"
	"github.com/quotely/pricelearn/internal/store/pgstore"
	"github.com/quotely/pricelearn/internal/store/sqlitestore"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	businesses := flag.String("businesses", "", "comma-separated business IDs to analyze")
	timeout := flag.Duration("timeout", 5*time.Minute, "per-business analysis timeout")
	flag.Parse()

	ids := splitTrim(*businesses)
	if len(ids) == 0 {
		log.Fatal().Msg("No business IDs given, use -businesses=a,b,c")
	}

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data dir")
	}
	cfg := config.Get()

	tunables, err := config.LoadTunables(config.TunablesPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load tunables")
	}
	priority := scoring.Config{
		ImpactCap:           tunables.Selector.ImpactCap,
		RecencyHalfLifeDays: tunables.Selector.RecencyHalfLifeDays,
		RecencyFloor:        tunables.Selector.RecencyFloor,
	}

	var profileStore store.ProfileStore
	switch cfg.Backend {
	case config.BackendPostgres:
		pg, err := pgstore.NewStore(pgstore.Config{
			DSN:      cfg.PostgresDSN,
			MaxConns: cfg.MaxConns,
			LogLevel: logger.Warn,
			Store:    tunables.Store,
			Priority: priority,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open postgres store")
		}
		defer pg.Close()
		profileStore = pg
	default:
		sq, err := sqlitestore.NewStore(sqlitestore.Config{
			Path:     cfg.DBPath,
			MaxConns: cfg.MaxConns,
			Store:    tunables.Store,
			Priority: priority,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open sqlite store")
		}
		defer sq.Close()
		profileStore = sq
	}

	engine := dna.New(tunables.DNA, calibration.NewCalibrator(tunables.Calibration), profileStore)

	failed := 0
	for _, businessID := range ids {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		result, err := engine.Run(ctx, businessID)
		cancel()
		if err != nil {
			failed++
			log.Error().Err(err).Str("business_id", businessID).Msg("DNA run failed")
			continue
		}
		log.Info().
			Str("business_id", businessID).
			Int("categories", result.CategoriesAnalyzed).
			Int("universal", len(result.UniversalPatterns)).
			Int("partial", len(result.PartialPatterns)).
			Int("bootstrapped", result.Bootstrapped).
			Msg("DNA run complete")
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
