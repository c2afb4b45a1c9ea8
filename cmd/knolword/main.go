package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/conorfennell/knolword/internal/config"
	"github.com/conorfennell/knolword/internal/dict"
	"github.com/conorfennell/knolword/internal/fsrs"
	"github.com/conorfennell/knolword/internal/logging"
	"github.com/conorfennell/knolword/internal/review"
	"github.com/conorfennell/knolword/internal/storage"
)

var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "knolword <command>",
		Short: "Look up words and review them with spaced repetition",
		Long: `knolword looks words up in local dictionaries and remembers every word
you looked up, so it can quiz you right before you would forget it.

Examples:
  knolword lookup serendipity
  knolword review
  knolword similar recieve`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newLookupCmd(),
		newReviewCmd(),
		newRateCmd(),
		newForgetCmd(),
		newSimilarCmd(),
		newSearchCmd(),
		newHistoryCmd(),
		newStatsCmd(),
		newDictsCmd(),
		newDictCmd(),
		newPathsCmd(),
		newVersionCmd(),
	)
	return root
}

// app holds what a command needs once configuration is loaded.
type app struct {
	cfg *config.Config
	log *slog.Logger
	db  *storage.DB
}

// loadConfig reads the layered configuration for cmd and creates its directories.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp loads configuration and opens the history database.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	log.Debug("history database opened", "path", cfg.DBPath)
	return &app{cfg: cfg, log: log, db: db}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// scheduler builds a Scheduler over the app's database with the configured model.
func (a *app) scheduler(opts ...review.Option) *review.Scheduler {
	params := fsrs.DefaultParams()
	params.DesiredRetention = a.cfg.FSRS.DesiredRetention
	params.MaximumInterval = a.cfg.FSRS.MaximumInterval

	opts = append([]review.Option{
		review.WithLogger(a.log),
		review.WithInitialState(fsrs.NewState()),
	}, opts...)
	return review.NewScheduler(a.db, params, opts...)
}

// dictionaries loads every glossary in the dictionary dir.
func (a *app) dictionaries() ([]*dict.Glossary, error) {
	return dict.Load(a.cfg.DictDir, a.log)
}
