package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/RamXX/bmdash/internal/store"
	"github.com/RamXX/bmdash/internal/watch"
	"github.com/spf13/cobra"
)

// ignoredOutputs are files bmdash writes itself. Atomic writes go through
// temp files named after the target, hence the trailing wildcard.
var ignoredOutputs = []string{store.StateFile + "*", store.CacheDir, "*.lock", ".git"}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sync whenever BMAD artifacts change",
	RunE: func(cmd *cobra.Command, args []string) error {
		debounce, _ := cmd.Flags().GetDuration("debounce")
		addr, _ := cmd.Flags().GetString("metrics-addr")
		ctx := cmd.Context()

		p, err := openProject()
		if err != nil {
			return err
		}
		if _, err := p.orch.Sync(ctx); err != nil {
			return err
		}

		if addr != "" {
			srv := &http.Server{Addr: addr, Handler: p.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					p.log.Error("metrics server", "addr", addr, "err", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		w, err := watch.New(func(ctx context.Context, paths []string) error {
			r, err := p.orch.Sync(ctx)
			if err != nil {
				return err
			}
			if r.Changed() && !quiet {
				fmt.Printf("[%s] %d change(s): %d reparsed, %d added, %d removed\n",
					time.Now().Format("15:04:05"), len(paths), len(r.Reparsed), len(r.Added), len(r.Removed))
			}
			return nil
		},
			watch.WithDebounce(debounce),
			watch.WithIgnore(ignoredOutputs...),
			watch.WithLogger(p.log),
		)
		if err != nil {
			return err
		}
		if err := w.AddRecursive(p.store.OutputPath()); err != nil {
			return err
		}
		if !quiet {
			fmt.Printf("Watching %s (Ctrl-C to stop)\n", p.store.OutputPath())
		}
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().Duration("debounce", watch.DefaultDebounce, "quiet period before syncing")
	watchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	rootCmd.AddCommand(watchCmd)
}
