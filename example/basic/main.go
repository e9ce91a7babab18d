package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"unitconv"
)

func main() {
	dbPath := flag.String("db", ":memory:", "SQLite database path")
	configPath := flag.String("config", "", "optional YAML config")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if err := run(context.Background(), logger, *dbPath, *configPath); err != nil {
		logger.Error("Example failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, dbPath, configPath string) error {
	cfg := unitconv.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = unitconv.LoadConfig(configPath); err != nil {
			return err
		}
	}

	store, err := unitconv.OpenSQLite(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if err := seed(ctx, store); err != nil {
		return fmt.Errorf("seed store: %w", err)
	}

	engine := unitconv.NewEngine(store,
		unitconv.WithConfig(cfg),
		unitconv.WithLogger(logger),
		unitconv.WithAnomalyHook(func(a unitconv.Anomaly) {
			fmt.Printf("anomaly: %s %d -> %d\n", a.Kind, a.FromUnitID, a.ToUnitID)
		}),
	)

	// 2 capsules of product 13 expressed in scoops of product 21021.
	scoops, ok, err := engine.Convert(ctx, 2, 3, 1961, 13, 21021)
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	path, _, err := engine.Path(ctx, 3, 1961, 13, 21021)
	if err != nil {
		return fmt.Errorf("path: %w", err)
	}
	fmt.Printf("2 capsules = %.3f scoops (convertible: %v, path: %v)\n", scoops, ok, path)

	options, err := engine.UnitOptionsForProduct(ctx, unitconv.ProductDosing{ProductID: 21021, FormID: 3, AmountUnitID: 5})
	if err != nil {
		return fmt.Errorf("unit options: %w", err)
	}
	for _, o := range options.Options {
		fmt.Printf("option %d: %s\n", o.Value, o.Label)
	}
	return nil
}

func seed(ctx context.Context, store *unitconv.SQLiteStore) error {
	err := store.AddUnits(ctx,
		unitconv.Unit{ID: 2, Name: "ml", FormID: 2},
		unitconv.Unit{ID: 3, Name: "capsules", FormID: 1},
		unitconv.Unit{ID: 5, Name: "g", FormID: 3},
		unitconv.Unit{ID: 12, Name: "mg vitamin C"},
		unitconv.Unit{ID: 16, Name: "fl oz (US)", FormID: 2},
		unitconv.Unit{ID: 1961, Name: "scoop (4 cc)", FormID: 3, ProductID: 21021},
	)
	if err != nil {
		return err
	}
	return store.AddConversionFacts(ctx,
		unitconv.ConversionFact{FromUnitID: 16, ToUnitID: 2, Factor: 29.574},
		unitconv.ConversionFact{FromUnitID: 3, ToUnitID: 5, Factor: 0.634, ProductID: 13},
		unitconv.ConversionFact{FromUnitID: 3, ToUnitID: 12, Factor: 500, ProductID: 13},
		unitconv.ConversionFact{FromUnitID: 1961, ToUnitID: 5, Factor: 3.6, ProductID: 21021},
		unitconv.ConversionFact{FromUnitID: 5, ToUnitID: 12, Factor: 555.556, ProductID: 21021},
	)
}
