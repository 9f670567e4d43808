package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	xmldb "github.com/i5heu/ouroboros-xmldb"
	"github.com/i5heu/ouroboros-xmldb/internal/config"
	"github.com/i5heu/ouroboros-xmldb/internal/metrics"
	"github.com/i5heu/ouroboros-xmldb/pkg/logging"
	"github.com/spf13/cobra"
)

type app struct {
	configPath     string
	dataDir        string
	logLevel       string
	keepWhitespace bool
	showMetrics    bool

	db *xmldb.XMLDB
}

func main() {
	if err := rootCommand(&app{}).Execute(); err != nil {
		logging.Logger.Error("xmldb failed", "error", err)
		os.Exit(1)
	}
}

func rootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "xmldb",
		Short:         "store XML documents and change them with atomic update batches",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "xmldb.yaml", "path of the YAML config file")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "data directory, overrides the config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error, overrides the config file")
	root.PersistentFlags().BoolVar(&a.keepWhitespace, "keep-whitespace", false, "keep whitespace-only text on import")
	root.PersistentFlags().BoolVar(&a.showMetrics, "metrics", false, "print update counters after the command")

	root.AddCommand(
		importCommand(a),
		applyCommand(a),
		showCommand(a),
		listCommand(a),
		infoCommand(a),
		dropCommand(a),
	)
	return root
}

func (a *app) open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	conf, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		conf.Paths = []string{a.dataDir}
	}
	if a.logLevel != "" {
		conf.LogLevel = a.logLevel
	}
	if a.keepWhitespace {
		conf.KeepWhitespace = true
	}

	log := logging.New(os.Stderr, logging.ParseLevel(conf.LogLevel))
	logging.Logger = log

	db, err := xmldb.New(xmldb.Config{
		Paths:          conf.Paths,
		MinimumFreeGB:  conf.MinimumFreeGB,
		Compression:    conf.Compression,
		KeepWhitespace: conf.KeepWhitespace,
		Logger:         log,
	})
	if err != nil {
		return err
	}
	if err := db.Start(ctx); err != nil {
		return err
	}
	a.db = db
	return nil
}

func (a *app) close(cmd *cobra.Command) error {
	if a.db == nil {
		return nil
	}
	if err := a.db.Close(context.Background()); err != nil {
		return err
	}
	if !a.showMetrics {
		return nil
	}

	values, err := metrics.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %g\n", k, values[k])
	}
	return nil
}
