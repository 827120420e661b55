package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/socialtoolkit/lawharvest/internal/pipeline"
	"github.com/socialtoolkit/lawharvest/internal/store/postgres"
)

func newLocationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locations <roster.json>",
		Short: "Load or refresh the location roster",
		Long: `Reads a JSON array of locations (GNIS id, FIPS id, place name, state,
census class code, optional government domain) and upserts them into the
database. Existing locations are updated in place.`,
		Args: cobra.ExactArgs(1),
		RunE: loadLocations,
	}
}

func loadLocations(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadEnvironment()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}
	var locs []pipeline.Location
	if err := json.Unmarshal(data, &locs); err != nil {
		return fmt.Errorf("parse roster: %w", err)
	}
	if len(locs) == 0 {
		return fmt.Errorf("roster %s contains no locations", args[0])
	}
	for _, l := range locs {
		if l.GeoID == 0 {
			return fmt.Errorf("roster entry %q is missing a gnis id", l.PlaceName)
		}
	}

	ctx := cmd.Context()
	store, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
		Migrate:  cfg.DB.Migrate,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer store.Close()

	if err := store.UpsertLocations(ctx, locs); err != nil {
		return fmt.Errorf("upsert locations: %w", err)
	}
	logger.Info("roster loaded", zap.Int("locations", len(locs)), zap.String("file", args[0]))
	return nil
}
