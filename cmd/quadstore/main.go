// Package main provides the quadstore CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/orneryd/quadstore/pkg/config"
	"github.com/orneryd/quadstore/pkg/logging"
	"github.com/orneryd/quadstore/pkg/quadstore"
	"github.com/orneryd/quadstore/pkg/rdf"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Subcommands share one viper instance
// that layers defaults, the --config file, QUADSTORE_* variables and flags.
func newRootCmd() *cobra.Command {
	v := config.NewViper()

	rootCmd := &cobra.Command{
		Use:   "quadstore",
		Short: "quadstore - embeddable RDF quad store",
		Long: `quadstore keeps RDF quads with multiplicities in memory or in BadgerDB.

Every quad may be stored more than once; removing it decrements its count.
Named graphs can be copied, moved and cleared as a whole.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if path, _ := cmd.Flags().GetString("config"); path != "" {
				v.SetConfigFile(path)
				v.SetConfigType("yaml")
				if err := v.ReadInConfig(); err != nil {
					return errors.Wrapf(err, "failed to read config file %s", path)
				}
			}
			return logging.Initialize(v.GetBool("logging.json"), v.GetString("logging.level"))
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML configuration file")
	flags.String("data-dir", "", "Data directory (badger backend)")
	flags.String("backend", "", "Storage backend: memory or badger")
	flags.Bool("log-json", false, "Log as JSON")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	_ = v.BindPFlag("storage.data_dir", flags.Lookup("data-dir"))
	_ = v.BindPFlag("storage.backend", flags.Lookup("backend"))
	_ = v.BindPFlag("logging.json", flags.Lookup("log-json"))
	_ = v.BindPFlag("logging.level", flags.Lookup("log-level"))

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "quadstore v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return cfg.WriteYAML(cmd.OutOrStdout())
		},
	})

	importCmd := &cobra.Command{
		Use:   "import <file.nq>",
		Short: "Import an N-Quads file in one transaction",
		Args:  cobra.ExactArgs(1),
		RunE:  withDB(v, runImport),
	}
	importCmd.Flags().String("graph", "", "Graph for statements without a graph label")
	rootCmd.AddCommand(importCmd)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write quads as N-Quads to stdout",
		Args:  cobra.NoArgs,
		RunE:  withDB(v, runExport),
	}
	exportCmd.Flags().String("graph", "", "Only export this graph")
	rootCmd.AddCommand(exportCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print store statistics as JSON",
		Args:  cobra.NoArgs,
		RunE:  withDB(v, runStats),
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "graphs",
		Short: "List the graphs holding at least one quad",
		Args:  cobra.NoArgs,
		RunE:  withDB(v, runGraphs),
	})

	copyCmd := &cobra.Command{
		Use:   "copy <origin> <target>",
		Short: "Copy the quads of one graph into another",
		Args:  cobra.ExactArgs(2),
		RunE:  withDB(v, runCopy),
	}
	copyCmd.Flags().Bool("overwrite", false, "Clear the target graph first")
	rootCmd.AddCommand(copyCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "move <origin> <target>",
		Short: "Move the quads of one graph into another",
		Args:  cobra.ExactArgs(2),
		RunE:  withDB(v, runMove),
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "clear [graph]",
		Short: "Remove every quad, or every quad of one graph",
		Args:  cobra.MaximumNArgs(1),
		RunE:  withDB(v, runClear),
	})

	return rootCmd
}

func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type dbCommand func(cmd *cobra.Command, args []string, db *quadstore.DB) error

// withDB opens the store for the duration of one command.
func withDB(v *viper.Viper, run dbCommand) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(v)
		if err != nil {
			return err
		}
		db, err := quadstore.Open(cfg)
		if err != nil {
			return err
		}
		runErr := run(cmd, args, db)
		if err := db.Close(); err != nil && runErr == nil {
			runErr = err
		}
		return runErr
	}
}

// graphFlag returns the --graph flag as a node, or nil when unset.
func graphFlag(cmd *cobra.Command, db *quadstore.DB) rdf.Node {
	iri, _ := cmd.Flags().GetString("graph")
	if iri == "" {
		return nil
	}
	return db.Nodes().IRI(iri)
}

func runImport(cmd *cobra.Command, args []string, db *quadstore.DB) error {
	f, err := os.Open(args[0])
	if err != nil {
		return errors.Wrap(err, "open n-quads file")
	}
	defer f.Close()

	n, err := db.Import(cmd.Context(), f, graphFlag(cmd, db))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d statements from %s\n", n, args[0])
	return nil
}

func runExport(cmd *cobra.Command, args []string, db *quadstore.DB) error {
	_, err := db.Export(cmd.Context(), rdf.Quad{Graph: graphFlag(cmd, db)}, cmd.OutOrStdout())
	return err
}

func runStats(cmd *cobra.Command, args []string, db *quadstore.DB) error {
	stats, err := db.Stats()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func runGraphs(cmd *cobra.Command, args []string, db *quadstore.DB) error {
	graphs, err := db.Dataset().Graphs()
	if err != nil {
		return err
	}
	for _, g := range graphs {
		fmt.Fprintln(cmd.OutOrStdout(), g)
	}
	return nil
}

func runCopy(cmd *cobra.Command, args []string, db *quadstore.DB) error {
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	origin, target := db.Nodes().IRI(args[0]), db.Nodes().IRI(args[1])
	return db.Dataset().Copy(origin, target, overwrite)
}

func runMove(cmd *cobra.Command, args []string, db *quadstore.DB) error {
	origin, target := db.Nodes().IRI(args[0]), db.Nodes().IRI(args[1])
	return db.Dataset().Move(origin, target)
}

func runClear(cmd *cobra.Command, args []string, db *quadstore.DB) error {
	if len(args) == 0 {
		return db.Dataset().Clear()
	}
	return db.Dataset().ClearGraph(db.Nodes().IRI(args[0]))
}
