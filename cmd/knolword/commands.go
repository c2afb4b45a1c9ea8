package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/conorfennell/knolword/internal/config"
	"github.com/conorfennell/knolword/internal/dict"
	"github.com/conorfennell/knolword/internal/dictsource"
	"github.com/conorfennell/knolword/internal/domain"
	"github.com/conorfennell/knolword/internal/logging"
	"github.com/conorfennell/knolword/internal/metrics"
	"github.com/conorfennell/knolword/internal/review"
	"github.com/conorfennell/knolword/internal/web"
	"github.com/conorfennell/knolword/internal/wordkey"
)

// --- lookup ---

func newLookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup <word>",
		Short: "Look a word up and add it to the review queue",
		Long: `Look a word up in every dictionary and add it to the review queue.

The entries are written to stdout as HTML. With --out the page is written to
<dir>/index.html together with the entries' resource files.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")

			key, err := wordkey.Normalize(args[0])
			if err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			glossaries, err := a.dictionaries()
			if err != nil {
				return err
			}
			entries, err := dict.NewMulti(glossaries).LookupAll(key)
			if err != nil {
				a.log.Warn("dictionary lookup failed", "word", key, "error", err)
			}

			sched := a.scheduler()
			if len(entries) == 0 {
				var suggestions []string
				for s, err := range sched.Similar(cmd.Context(), key, a.cfg.Recall.MaxDistance) {
					if err != nil {
						return err
					}
					suggestions = append(suggestions, s)
				}
				if len(suggestions) > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "did you mean: %s\n", strings.Join(suggestions, ", "))
				}
				return fmt.Errorf("%s: %w", key, domain.ErrNotFound)
			}

			if _, _, err := sched.Track(cmd.Context(), key); err != nil {
				return err
			}

			if out == "" {
				return dict.Render(cmd.OutOrStdout(), key, entries, ".")
			}
			path, err := writePage(out, key, entries)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().String("out", "", "directory to write index.html and resources to")
	return cmd
}

// writePage writes the rendered entries into dir/index.html and each resource
// below dir at its dict.ResourcePath.
func writePage(dir, key string, entries []dict.Entry) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	for i, e := range entries {
		for name, data := range e.Resources {
			rel := filepath.FromSlash(dict.ResourcePath(i, name))
			if !filepath.IsLocal(rel) {
				return "", fmt.Errorf("resource %q of %s escapes the output dir", name, e.Dictionary)
			}
			target := filepath.Join(dir, rel)
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", fmt.Errorf("creating resource dir: %w", err)
			}
			if err := os.WriteFile(target, data, 0o644); err != nil {
				return "", fmt.Errorf("writing resource %s: %w", name, err)
			}
		}
	}

	path := filepath.Join(dir, "index.html")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating page: %w", err)
	}
	if err := dict.Render(f, key, entries, "."); err != nil {
		f.Close()
		return "", fmt.Errorf("rendering page: %w", err)
	}
	return path, f.Close()
}

// --- review ---

func newReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Start the browser review session",
		Long: `Start a local web server that quizzes you on every word that is due.

Each word is shown at most once per run. Open the printed address in a browser.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			glossaries, err := a.dictionaries()
			if err != nil {
				return err
			}
			if len(glossaries) == 0 {
				a.log.Warn("no dictionaries found, answers will be empty", "dir", a.cfg.DictDir)
			}

			m := metrics.NewManager(metrics.DefaultConfig())
			sched := a.scheduler(review.WithMetrics(m))
			srv, err := web.NewServer(sched, dict.NewMulti(glossaries), m, a.log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Run(ctx, a.cfg.Server.Addr, a.cfg.Server.ReadTimeout, func(addr net.Addr) {
				fmt.Fprintf(cmd.OutOrStdout(), "reviewing at http://%s/\n", addr)
			})
		},
	}
	cmd.Flags().String("addr", "", "address to listen on (default 127.0.0.1:8765)")
	return cmd
}

// --- rate ---

// parseRating accepts 1-4 or a rating name.
func parseRating(s string) (domain.Rating, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return domain.ParseRating(n)
	}
	for r := domain.Again; r <= domain.Easy; r++ {
		if strings.EqualFold(s, r.String()) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", domain.ErrInvalidRating, s)
}

func newRateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate <word> <rating>",
		Short: "Rate a word without the browser (again, hard, good, easy or 1-4)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := wordkey.Normalize(args[0])
			if err != nil {
				return err
			}
			rating, err := parseRating(args[1])
			if err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			it, err := a.scheduler().Rate(cmd.Context(), key, rating)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, next review %s\n",
				it.Key, it.State.Phase, it.DueAt.Local().Format(time.DateTime))
			return nil
		},
	}
}

// --- forget ---

func newForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <word>",
		Short: "Remove a word and its review history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := wordkey.Normalize(args[0])
			if err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.scheduler().Forget(cmd.Context(), key)
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("%s: %w", key, domain.ErrNotFound)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", key)
			return nil
		},
	}
}

// --- similar ---

func newSimilarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "similar <word>",
		Short: "List stored words within a few edits of word, or anagrams of it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			maxDistance := a.cfg.Recall.MaxDistance
			if cmd.Flags().Changed("max-distance") {
				maxDistance, _ = cmd.Flags().GetInt("max-distance")
			}
			if maxDistance < 0 {
				return fmt.Errorf("--max-distance must not be negative")
			}

			for key, err := range a.scheduler().Similar(cmd.Context(), args[0], maxDistance) {
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}
	cmd.Flags().Int("max-distance", 1, "maximum edit distance")
	return cmd
}

// --- search ---

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <fragment>",
		Short: "List stored words containing fragment, best match first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			keys, err := a.scheduler().Search(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "maximum number of results")
	return cmd
}

// --- history ---

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <word>",
		Short: "Show every rating applied to a word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := wordkey.Normalize(args[0])
			if err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			it, err := a.db.GetItem(cmd.Context(), key)
			if err != nil {
				return err
			}
			logs, err := a.db.History(cmd.Context(), key)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s, %d reviews, %d lapses, due %s\n",
				it.Key, it.State.Phase, it.State.Reps, it.State.Lapses, it.DueAt.Local().Format(time.DateTime))
			if len(logs) == 0 {
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REVIEWED\tRATING\tPHASE\tELAPSED\tSCHEDULED")
			for _, l := range logs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%dd\t%dd\n",
					l.ReviewedAt.Local().Format(time.DateTime), l.Rating, l.Phase, l.ElapsedDays, l.ScheduledDays)
			}
			return tw.Flush()
		},
	}
}

// --- stats ---

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show collection totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.db.GetStats(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "words     %d\n", s.Items)
			fmt.Fprintf(out, "due now   %d\n", s.Due)
			fmt.Fprintf(out, "sessions  %d\n", s.Sessions)
			fmt.Fprintf(out, "reviews   %d\n", s.Reviews)
			return nil
		},
	}
}

// --- dicts / dict sync ---

func newDictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dicts",
		Short: "List installed dictionaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())

			glossaries, err := dict.Load(cfg.DictDir, log)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(glossaries) == 0 {
				fmt.Fprintf(out, "no dictionary found in %s\n", cfg.DictDir)
				return nil
			}
			for _, g := range glossaries {
				fmt.Fprintf(out, "%s\t%d words\t%s\n", g.Name, g.Len(), g.Path)
			}
			return nil
		},
	}
}

func newDictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dict",
		Short: "Manage dictionaries",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sync <repo-url>",
		Short: "Clone or update a dictionary git repository",
		Long: `Clone a git repository of glossary files into the dictionary dir, or pull
the latest changes if it was cloned before.

Examples:
  knolword dict sync https://github.com/example/english-glossary.git
  knolword dict sync git@github.com:example/english-glossary.git`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())

			path, err := dictsource.NewSyncer(cfg.DictDir, log, cmd.ErrOrStderr()).Sync(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			glossaries, err := dict.Load(path, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d dictionaries\n", path, len(glossaries))
			return nil
		},
	})
	return cmd
}

// --- paths / version ---

func newPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show where knolword keeps its files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			configPath, _ := cmd.Flags().GetString("config")
			if configPath == "" {
				configPath = filepath.Join(cfg.DataDir, config.FileName)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "data dir          %s\n", cfg.DataDir)
			fmt.Fprintf(out, "config file       %s\n", configPath)
			fmt.Fprintf(out, "history database  %s\n", cfg.DBPath)
			fmt.Fprintf(out, "dictionary dir    %s\n", cfg.DictDir)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "knolword %s\n", version)
		},
	}
}
