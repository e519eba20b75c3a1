package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/regcanon/internal/config"
	"github.com/regcanon/internal/db"
	"github.com/regcanon/internal/enum"
	"github.com/regcanon/internal/filtercache"
	"github.com/regcanon/internal/fuzzy"
	"github.com/regcanon/internal/hierarchy"
	"github.com/regcanon/internal/query"
	"github.com/regcanon/internal/regularize"
	"github.com/regcanon/internal/store"
	"github.com/regcanon/internal/web"
)

var (
	cfg    *config.Config
	dbConn *db.Connection

	rowStore     *store.SQLRowStore
	mappingStore *store.SQLMappingStore
	enumerator   *enum.Enumerator
	hierBuilder  *hierarchy.Builder
	engine       *regularize.Engine
	cache        *filtercache.Cache
	queries      *query.Builder
)

func main() {
	cfg = config.Load()

	var err error
	dbConn, err = db.NewConnection(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbConn.Close()

	if err := store.EnsureSchema(context.Background(), dbConn.DB); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	rowStore = store.NewSQLRowStore(dbConn.DB)
	mappingStore = store.NewSQLMappingStore(dbConn.DB)
	enumerator = enum.New(dbConn.DB)
	hierBuilder = hierarchy.NewBuilder(rowStore, cfg.CuratedYears)
	engine = regularize.NewEngine(rowStore, hierBuilder, mappingStore).WithDebug(cfg.Debug)
	cache = filtercache.New(enumerator, rowStore, nil)
	queries = query.NewBuilder(rowStore, enumerator, cfg.CuratedYears).WithDebug(cfg.Debug)

	rootCmd := &cobra.Command{
		Use:   "regcanon",
		Short: "Vehicle registration reconciliation and query engine",
		Long:  `Maps inconsistent make/model spellings onto a canonical hierarchy and runs optimized aggregate queries over enumerated dimensions`,
	}

	rootCmd.AddCommand(createPingCmd())
	rootCmd.AddCommand(createEnumerateCmd())
	rootCmd.AddCommand(createPairsCmd())
	rootCmd.AddCommand(createSweepCmd())
	rootCmd.AddCommand(createResolveCmd())
	rootCmd.AddCommand(createPromoteCmd())
	rootCmd.AddCommand(createQueryCmd())
	rootCmd.AddCommand(createServeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// createPingCmd creates a command to test database connectivity
func createPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test database connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Database connection successful!")

			var count int
			err := dbConn.DB.QueryRow("SELECT COUNT(*) FROM fact_registration").Scan(&count)
			if err != nil {
				log.Printf("Error counting fact_registration rows: %v", err)
			} else {
				fmt.Printf("Registration rows loaded: %d\n", count)
			}

			err = dbConn.DB.QueryRow("SELECT COUNT(*) FROM map_pair").Scan(&count)
			if err != nil {
				log.Printf("Error counting map_pair rows: %v", err)
			} else {
				fmt.Printf("Pair mappings stored: %d\n", count)
			}
		},
	}
}

func createEnumerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enumerate",
		Short: "Enumerate every categorical dimension to integer ids",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			for _, dim := range store.Dimensions {
				table, err := enumerator.Enumerate(ctx, dim)
				if err != nil {
					log.Fatalf("Failed to enumerate %s: %v", dim, err)
				}
				fmt.Printf("%-14s %d values\n", dim, len(table))
			}
		},
	}
}

func createPairsCmd() *cobra.Command {
	var includeExact bool

	pairsCmd := &cobra.Command{
		Use:   "pairs",
		Short: "List distinct (make, model) pairs with their derived status",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			pairs, err := engine.FindUncuratedPairs(ctx, includeExact)
			if err != nil {
				log.Fatalf("Failed to list pairs: %v", err)
			}

			for _, p := range pairs {
				status, err := engine.StatusFor(ctx, p)
				if err != nil {
					log.Fatalf("Failed to derive status for %s: %v", p.Key(), err)
				}
				fmt.Printf("%-10s %-20s %-30s %s\n", p.Key(), p.MakeText, p.ModelText, status)
			}
			fmt.Printf("%d pairs\n", len(pairs))
		},
	}

	pairsCmd.Flags().BoolVar(&includeExact, "include-exact", true, "Include pairs that exactly equal a canonical pair")
	return pairsCmd
}

func createSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the idempotent auto-regularization sweep",
		Run: func(cmd *cobra.Command, args []string) {
			report, err := engine.AutoRegularize(cmd.Context())
			if err != nil {
				log.Fatalf("Sweep failed: %v", err)
			}

			fmt.Printf("Scanned:        %d\n", report.Scanned)
			fmt.Printf("Created:        %d\n", report.Created)
			fmt.Printf("Already mapped: %d\n", report.AlreadyMapped)
			fmt.Printf("No exact match: %d\n", report.NoExactMatch)
			if len(report.Failures) > 0 {
				fmt.Printf("Failures:       %d\n", len(report.Failures))
				for _, f := range report.Failures {
					fmt.Printf("  %s: %s\n", f.PairKey, f.Err)
				}
			}
		},
	}
}

func createResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [make] [model]",
		Short: "Resolve the canonical pair for a raw (make, model) text pair",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			p, err := pairForTexts(ctx, args[0], args[1])
			if err != nil {
				log.Fatalf("Failed to resolve pair ids: %v", err)
			}

			withSuggester(ctx)

			makeName, modelName, ok, err := engine.ResolveCanonicalForPair(ctx, p)
			if err != nil {
				log.Fatalf("Resolution failed: %v", err)
			}
			if ok {
				fmt.Printf("%s / %s\n", makeName, modelName)
				return
			}

			fmt.Println("No canonical resolution.")
			suggestions, err := engine.Suggestions(ctx, p, 5)
			if err != nil {
				log.Fatalf("Suggestion lookup failed: %v", err)
			}
			for _, sg := range suggestions {
				fmt.Printf("  suggestion: %s / %s (distance %d)\n", sg.Make, sg.Model, sg.Distance)
			}
		},
	}
}

func createPromoteCmd() *cobra.Command {
	var fuelType, vehicleType, canonMake, canonModel string

	promoteCmd := &cobra.Command{
		Use:   "promote [make] [model]",
		Short: "Promote a pair to complete with fuel and/or vehicle type",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			p, err := pairForTexts(ctx, args[0], args[1])
			if err != nil {
				log.Fatalf("Failed to resolve pair ids: %v", err)
			}

			promo := regularize.Promotion{CanonicalMake: canonMake, CanonicalModel: canonModel}
			if fuelType != "" {
				promo.FuelType = &fuelType
			}
			if vehicleType != "" {
				promo.VehicleType = &vehicleType
			}

			if err := engine.PromoteToComplete(ctx, p, promo); err != nil {
				log.Fatalf("Promotion failed: %v", err)
			}
			fmt.Printf("Pair %s promoted to complete\n", p.Key())
		},
	}

	promoteCmd.Flags().StringVar(&fuelType, "fuel-type", "", "Canonical fuel type")
	promoteCmd.Flags().StringVar(&vehicleType, "vehicle-type", "", "Canonical vehicle type")
	promoteCmd.Flags().StringVar(&canonMake, "canonical-make", "", "Canonical make (defaults to the resolved pair)")
	promoteCmd.Flags().StringVar(&canonModel, "canonical-model", "", "Canonical model (defaults to the resolved pair)")
	return promoteCmd
}

func createQueryCmd() *cobra.Command {
	var metricName, groupBy string
	var curatedOnly bool

	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Run an aggregate query grouped by a dimension or year",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			if err := enumerator.EnumerateAll(ctx); err != nil {
				log.Fatalf("Enumeration failed: %v", err)
			}

			metric, err := query.ParseMetric(metricName)
			if err != nil {
				log.Fatalf("%v", err)
			}

			result, err := queries.BuildAndRun(ctx, query.FilterConfiguration{
				GroupBy:          groupBy,
				CuratedYearsOnly: curatedOnly,
			}, metric)
			if err != nil {
				log.Fatalf("Query failed: %v", err)
			}

			for _, row := range result.Rows {
				fmt.Printf("%-30s %12.2f\n", row.Label, row.Value)
			}
		},
	}

	queryCmd.Flags().StringVar(&metricName, "metric", "count", "Metric: count, percent_of_base, road_wear")
	queryCmd.Flags().StringVar(&groupBy, "group-by", "year", "Group dimension or 'year'")
	queryCmd.Flags().BoolVar(&curatedOnly, "curated-only", false, "Restrict to curated years")
	return queryCmd
}

func createServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the JSON API server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			if err := cache.Warm(ctx); err != nil {
				log.Fatalf("Failed to warm filter cache: %v", err)
			}
			withSuggester(ctx)

			server := web.NewServer(cfg, engine, cache, queries, enumerator)
			log.Printf("Listening on %s:%d", cfg.ServerHost, cfg.ServerPort)
			if err := server.Start(); err != nil {
				log.Fatalf("Server error: %v", err)
			}
		},
	}
}

// withSuggester installs the SymSpell suggester over the built hierarchy.
func withSuggester(ctx context.Context) {
	h, err := hierBuilder.GetOrBuild(ctx)
	if err != nil {
		log.Fatalf("Failed to build canonical hierarchy: %v", err)
	}
	engine.WithSuggester(regularize.NewSymSpellSuggester(h, &fuzzy.Config{
		MaxEditDistance: cfg.FuzzyMaxEditDistance,
		MinTermLength:   cfg.FuzzyMinTermLength,
	}))
}

// pairForTexts resolves the enumerated ids of a raw text pair.
func pairForTexts(ctx context.Context, makeText, modelText string) (regularize.UncuratedPair, error) {
	if _, err := enumerator.Enumerate(ctx, store.DimensionMake); err != nil {
		return regularize.UncuratedPair{}, err
	}
	if _, err := enumerator.Enumerate(ctx, store.DimensionModel); err != nil {
		return regularize.UncuratedPair{}, err
	}

	makeID, err := enumerator.IDFor(store.DimensionMake, makeText)
	if err != nil {
		return regularize.UncuratedPair{}, err
	}
	modelID, err := enumerator.IDFor(store.DimensionModel, modelText)
	if err != nil {
		return regularize.UncuratedPair{}, err
	}
	return regularize.UncuratedPair{MakeID: makeID, ModelID: modelID, MakeText: makeText, ModelText: modelText}, nil
}
