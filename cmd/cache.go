package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-engine/internal/cache"
	"github.com/sells-group/lead-engine/internal/resilience"
	"github.com/sells-group/lead-engine/pkg/leadsapi"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage persisted segment snapshots",
}

// -- cache warm --

var cacheWarmCmd = &cobra.Command{
	Use:   "warm [segment...]",
	Short: "Fetch segments into the persisted cache",
	Long:  "Fetches the given loan types, or every loan type the service lists, and persists their snapshots.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "fetch")
		if err != nil {
			return err
		}
		defer env.Close()

		segments := args
		if len(segments) == 0 {
			if err := env.Session.Bootstrap(ctx); err != nil {
				return eris.Wrap(err, "cache warm")
			}
			segments = env.Session.LoanTypes()
		}
		if len(segments) == 0 {
			fmt.Fprintln(os.Stderr, "No loan types to warm.")
			return nil
		}

		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = cfg.Fetch.WarmConcurrency
		}
		scope := env.Session.Capabilities().Scope.RequestScope()

		failed, err := warmSegments(ctx, env, segments, scope, concurrency)
		if err != nil {
			return err
		}
		if failed > 0 {
			return eris.Errorf("cache warm: %d of %d segments failed", failed, len(segments))
		}
		return nil
	},
}

// warmSegments fetches segments concurrently. A failed segment is logged
// and counted; the others still complete.
func warmSegments(ctx context.Context, env *engineEnv, segments []string, scope string, concurrency int) (int, error) {
	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, segment := range segments {
		g.Go(func() error {
			resp, err := resilience.Call(gctx, env.Guard, func(ctx context.Context) (*leadsapi.ListResponse, error) {
				return env.Source.ListLeads(ctx, segment, leadsapi.ListOptions{Scope: scope})
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				zap.L().Error("warm segment failed", zap.String("segment", segment), zap.Error(err))
				return nil
			}
			leads := env.Norm.NormalizeBatch(resp.Items, segment)
			env.Cache.Put(gctx, segment, leads)
			zap.L().Info("warmed segment",
				zap.String("segment", segment),
				zap.Int("records", len(resp.Items)),
				zap.Int("leads", len(leads)),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(failed.Load()), eris.Wrap(err, "cache warm")
	}
	return int(failed.Load()), nil
}

// -- cache show --

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List persisted segment snapshots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		kv, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer kv.Close() //nolint:errcheck

		stats, err := collectStats(ctx, initCache(kv))
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			fmt.Fprintln(os.Stderr, "No cached segments.")
			return nil
		}
		formatCacheStats(os.Stdout, stats)
		return nil
	},
}

func collectStats(ctx context.Context, c *cache.Cache) ([]cache.Stat, error) {
	segments, err := c.PersistedSegments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]cache.Stat, 0, len(segments))
	for _, s := range segments {
		st, err := c.Stat(ctx, s)
		if err != nil {
			return nil, err
		}
		if st != nil {
			out = append(out, *st)
		}
	}
	return out, nil
}

func formatCacheStats(w io.Writer, stats []cache.Stat) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEGMENT\tLEADS\tFETCHED\tFRESH")
	for _, st := range stats {
		fetched := "-"
		if !st.FetchedAt.IsZero() {
			fetched = st.FetchedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%t\n", st.Segment, st.Leads, fetched, st.Fresh)
	}
	tw.Flush() //nolint:errcheck
}

// -- cache clear --

var cacheClearCmd = &cobra.Command{
	Use:   "clear [segment...]",
	Short: "Delete persisted segment snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		kv, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer kv.Close() //nolint:errcheck

		c := initCache(kv)
		segments := args
		if len(segments) == 0 {
			all, _ := cmd.Flags().GetBool("all")
			if !all {
				return eris.New("cache clear: name segments or pass --all")
			}
			if segments, err = c.PersistedSegments(ctx); err != nil {
				return err
			}
		}
		for _, s := range segments {
			if err := c.Clear(ctx, s); err != nil {
				return err
			}
		}
		fmt.Fprintf(os.Stderr, "Cleared %d segments.\n", len(segments))
		return nil
	},
}

func init() {
	cacheWarmCmd.Flags().Int("concurrency", 0, "segments fetched at once (default from config)")
	cacheClearCmd.Flags().Bool("all", false, "clear every persisted segment")

	cacheCmd.AddCommand(cacheWarmCmd)
	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
