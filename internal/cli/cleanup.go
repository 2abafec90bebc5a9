package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCleanupCmd() *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Evict sessions older than --max-age from the sqlite session store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.Session.Backend != "sqlite" {
				return fmt.Errorf("cleanup needs LEXA_SESSION_BACKEND=sqlite, the memory store lives inside lexa serve")
			}
			if maxAge <= 0 {
				maxAge = cfg.Pipeline.SessionMaxAge
			}

			store, err := newSessionStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.EvictOlderThan(cmd.Context(), maxAge)
			if err != nil {
				return err
			}
			remaining, err := store.ListIDs(cmd.Context())
			if err != nil {
				return err
			}

			logger.Info("cleanup finished", zap.Int("cleaned", n), zap.Int("remaining", len(remaining)))
			fmt.Fprintf(cmd.OutOrStdout(), "cleaned %s sessions uploaded before %s, %s remaining\n",
				humanize.Comma(int64(n)), humanize.Time(time.Now().Add(-maxAge)), humanize.Comma(int64(len(remaining))))
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "evict sessions uploaded longer ago than this (default LEXA_SESSION_MAX_AGE)")
	return cmd
}
