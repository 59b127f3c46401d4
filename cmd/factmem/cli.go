package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotsetgreg/factmem/pkg/config"
	"github.com/dotsetgreg/factmem/pkg/logger"
	"github.com/dotsetgreg/factmem/pkg/memory"
)

var (
	flagConfig  string
	flagDB      string
	flagVerbose bool
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "factmem.json"
	}
	return filepath.Join(home, ".factmem", "config.json")
}

func loadService() (*memory.Service, error) {
	logger.Init(flagVerbose)

	path := flagConfig
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flagDB != "" {
		cfg.Memory.DBPath = flagDB
	}
	return memory.NewService(cfg)
}

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "factmem",
		Short: "Persistent fact memory with TTL, hybrid recall, and stuck detection",
		Long: strings.TrimSpace(`factmem is a persistent fact-memory layer for conversational agents.

It extracts durable facts from dialogue, stores them with time-to-live
semantics, retrieves them via hybrid keyword+semantic search, consolidates
duplicates, and detects topic repetition.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file path (default ~/.factmem/config.json)")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "Override database path")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newStoreCommand())
	root.AddCommand(newSearchCommand())
	root.AddCommand(newEntityCommand())
	root.AddCommand(newSemanticCommand())
	root.AddCommand(newAddEntityCommand())
	root.AddCommand(newConsolidateCommand())
	root.AddCommand(newSweepCommand())
	root.AddCommand(newStatsCommand())
	root.AddCommand(newReplCommand())
	return root
}

func newStoreCommand() *cobra.Command {
	var ttl string

	cmd := &cobra.Command{
		Use:     "store <entity> <key> <value>",
		Short:   "Save a fact to persistent memory",
		Example: `  factmem store Kevin preference "TypeScript for all new backend projects" --ttl stable`,
		Args:    cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			entity, key := args[0], args[1]
			value := strings.Join(args[2:], " ")
			updated, err := svc.StoreFact(cmd.Context(), entity, key, value, ttl)
			if err != nil {
				return err
			}
			verb := "Stored"
			if updated {
				verb = "Updated"
			}
			fmt.Printf("%s: %s.%s = %s\n", verb, entity, key, value)
			return nil
		},
	}
	cmd.Flags().StringVar(&ttl, "ttl", "stable", "TTL class: permanent, stable (90d), active (14d), session (24h)")
	return cmd
}

func newSearchCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "search <query>",
		Short:   "Search memory with full-text search",
		Example: "  factmem search \"backend projects\" --limit 5",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			facts := svc.Search(cmd.Context(), strings.Join(args, " "), limit)
			if len(facts) == 0 {
				fmt.Println("No matching memories found.")
				return nil
			}
			fmt.Printf("Found %d memories:\n", len(facts))
			for i, f := range facts {
				fmt.Printf("%d. %s\n", i+1, formatFact(f))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum results")
	return cmd
}

func newEntityCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "entity <name>",
		Short:   "List all known facts about an entity",
		Example: "  factmem entity Kevin",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			facts := svc.EntityFacts(cmd.Context(), args[0])
			if len(facts) == 0 {
				fmt.Printf("No facts found for entity %q.\n", args[0])
				return nil
			}
			fmt.Printf("Facts about %s (%d):\n", args[0], len(facts))
			for _, f := range facts {
				fmt.Printf("- %s = %s (%s)\n", f.Key, f.Value, f.TTLClass)
			}
			return nil
		},
	}
}

func newSemanticCommand() *cobra.Command {
	var (
		limit     int
		threshold float64
	)

	cmd := &cobra.Command{
		Use:     "semantic <query>",
		Short:   "Search memory by semantic similarity",
		Example: "  factmem semantic \"what programming languages does he like\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			matches, err := svc.SemanticSearch(cmd.Context(), strings.Join(args, " "), limit, threshold)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Println("No semantically similar memories found.")
				return nil
			}
			fmt.Printf("Found %d semantically similar memories:\n", len(matches))
			for i, m := range matches {
				fmt.Printf("%d. %s (%.0f%% similar)\n", i+1, formatMatch(m), m.Similarity*100)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "Maximum results")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum similarity 0-1 (default from config)")
	return cmd
}

func newAddEntityCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "add-entity <name>",
		Short:   "Register an entity name for fact extraction",
		Example: "  factmem add-entity Melissa",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			if err := svc.RegisterEntity(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Entity %q registered.\n", args[0])
			return nil
		},
	}
}

func newConsolidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "consolidate",
		Short:   "Merge duplicate facts and sweep orphaned vectors",
		Example: "  factmem consolidate",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			merged := svc.Consolidate(cmd.Context())
			fmt.Printf("Consolidated %d duplicate facts.\n", merged)
			return nil
		},
	}
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "sweep",
		Short:   "Delete expired facts",
		Example: "  factmem sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			n := svc.Sweep(cmd.Context())
			fmt.Printf("Swept %d expired facts.\n", n)
			return nil
		},
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stats",
		Short:   "Show store contents",
		Example: "  factmem stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			st := svc.Stats(cmd.Context())
			fmt.Printf("Live facts: %d\nVectors:    %d\nEntities:   %d\n", st.LiveFacts, st.Vectors, st.Entities)
			return nil
		},
	}
}

func newReplCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "repl",
		Short:   "Interactive memory session",
		Example: "  factmem repl",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)
			runRepl(svc)
			return nil
		},
	}
}

func formatFact(f memory.Fact) string {
	if f.Entity != "" && f.Key != "" {
		return fmt.Sprintf("%s.%s = %s", f.Entity, f.Key, f.Value)
	}
	category := f.Category
	if category == "" {
		category = "general"
	}
	return fmt.Sprintf("[%s] %s", category, f.Description)
}

func formatMatch(m memory.SemanticMatch) string {
	if m.Entity != "" && m.Key != "" {
		return fmt.Sprintf("%s.%s = %s", m.Entity, m.Key, m.Value)
	}
	category := m.Category
	if category == "" {
		category = "general"
	}
	return fmt.Sprintf("[%s] %s", category, m.Description)
}
