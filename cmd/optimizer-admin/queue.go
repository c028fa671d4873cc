package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/core"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/data"
)

// resultCachePattern matches the dispatcher's cached optimization results.
const resultCachePattern = "optimizer:result:*"

func runQueueStats(cmdCtx *commandContext, _ []string) error {
	db, err := connectDB(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer closeQuietly(db, cmdCtx.Logger, "database")

	repoCfg := data.RepoConfig{Logger: cmdCtx.Logger}
	jobs := data.NewJobRepo(db, repoCfg)
	deliveries := data.NewDeliveryRepo(db, repoCfg)

	stats, err := jobs.Stats(cmdCtx.Ctx)
	if err != nil {
		return fmt.Errorf("load job stats: %w", err)
	}
	pendingDeliveries, err := deliveries.CountPending(cmdCtx.Ctx)
	if err != nil {
		return fmt.Errorf("count pending deliveries: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	rows := []struct {
		label string
		value string
	}{
		{"pending", fmt.Sprintf("%d", stats.Pending)},
		{"processing", fmt.Sprintf("%d", stats.Processing)},
		{"retry", fmt.Sprintf("%d", stats.Retry)},
		{"completed", fmt.Sprintf("%d", stats.Completed)},
		{"failed", fmt.Sprintf("%d", stats.Failed)},
		{"cancelled", fmt.Sprintf("%d", stats.Cancelled)},
		{"success rate", fmt.Sprintf("%.1f%%", stats.SuccessRate*100)},
		{"avg processing", fmt.Sprintf("%.1fs", stats.AvgProcessingSeconds)},
		{"avg score delta", fmt.Sprintf("%+.1f", stats.AvgScoreDelta)},
		{"pending deliveries", fmt.Sprintf("%d", pendingDeliveries)},
	}
	for _, row := range rows {
		if err := writef(w, "%s\t%s\n", row.label, row.value); err != nil {
			return err
		}
	}
	return w.Flush()
}

func runPromoteRetries(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("promote-retries", flag.ContinueOnError)
	limit := fs.Int("limit", 100, "maximum number of retry jobs to promote")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := connectDB(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer closeQuietly(db, cmdCtx.Logger, "database")

	jobs := data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger})
	promoted, err := jobs.PromoteDueRetries(cmdCtx.Ctx, *limit)
	if err != nil {
		return fmt.Errorf("promote retries: %w", err)
	}

	cmdCtx.Logger.Info("retry jobs promoted", "promoted", promoted)
	return nil
}

func runReap(cmdCtx *commandContext, args []string) error {
	reaperCfg := cmdCtx.Config.Reaper

	fs := flag.NewFlagSet("reap", flag.ContinueOnError)
	stuckTimeout := fs.Duration("stuck-timeout", reaperCfg.StuckTimeout, "processing age before a job counts as stuck")
	jobsMaxAge := fs.Duration("jobs-max-age", reaperCfg.JobsMaxAge, "age before terminal jobs are deleted")
	deliveriesMaxAge := fs.Duration("deliveries-max-age", reaperCfg.DeliveriesMaxAge, "age before failed deliveries are deleted")
	batchSize := fs.Int("batch", reaperCfg.BatchSize, "maximum rows per operation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := connectDB(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer closeQuietly(db, cmdCtx.Logger, "database")

	repoCfg := data.RepoConfig{Logger: cmdCtx.Logger}
	jobs := data.NewJobRepo(db, repoCfg)
	deliveries := data.NewDeliveryRepo(db, repoCfg)

	requeued, err := jobs.RequeueStuck(cmdCtx.Ctx, core.RequeueStuckParams{
		Timeout:   *stuckTimeout,
		BatchSize: *batchSize,
	})
	if err != nil {
		return fmt.Errorf("requeue stuck jobs: %w", err)
	}

	deletedJobs, err := jobs.DeleteOlderThan(cmdCtx.Ctx, core.DeleteOldJobsParams{
		MaxAge:    *jobsMaxAge,
		BatchSize: *batchSize,
	})
	if err != nil {
		return fmt.Errorf("delete old jobs: %w", err)
	}

	deletedDeliveries, err := deliveries.DeleteOlderThan(cmdCtx.Ctx, core.DeleteOldDeliveriesParams{
		MaxAge:    *deliveriesMaxAge,
		BatchSize: *batchSize,
	})
	if err != nil {
		return fmt.Errorf("delete old deliveries: %w", err)
	}

	cmdCtx.Logger.Info("reap sweep complete",
		"requeued", requeued,
		"deleted_jobs", deletedJobs,
		"deleted_deliveries", deletedDeliveries,
	)
	return nil
}

func runListResultCache(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("list-result-cache", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "maximum number of keys to print")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := connectRedis(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer closeQuietly(client, cmdCtx.Logger, "redis")

	keys, err := scanResultKeys(cmdCtx, client)
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		return writef(os.Stdout, "no cached results\n")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writef(w, "KEY\tTTL\n"); err != nil {
		return err
	}
	for i, key := range keys {
		if i >= *limit {
			break
		}
		ttl, ttlErr := client.TTL(cmdCtx.Ctx, key).Result()
		if ttlErr != nil {
			return fmt.Errorf("read ttl for %s: %w", key, ttlErr)
		}
		if err := writef(w, "%s\t%s\n", key, ttl.Round(time.Second)); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return writef(os.Stdout, "\n%d cached results\n", len(keys))
}

func runClearResultCache(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("clear-result-cache", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "print what would be deleted without deleting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := connectRedis(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer closeQuietly(client, cmdCtx.Logger, "redis")

	keys, err := scanResultKeys(cmdCtx, client)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		cmdCtx.Logger.Info("no cached results to clear")
		return nil
	}
	if *dryRun {
		cmdCtx.Logger.Info("cached results matched", "count", len(keys), "sample", strings.Join(sample(keys, 5), ", "))
		return nil
	}

	for start := 0; start < len(keys); start += 100 {
		end := min(start+100, len(keys))
		if delErr := client.Del(cmdCtx.Ctx, keys[start:end]...).Err(); delErr != nil {
			return fmt.Errorf("delete redis keys: %w", delErr)
		}
	}

	cmdCtx.Logger.Info("cached results cleared", "count", len(keys))
	return nil
}

func scanResultKeys(cmdCtx *commandContext, client redis.UniversalClient) ([]string, error) {
	iter := client.Scan(cmdCtx.Ctx, 0, resultCachePattern, 1000).Iterator()
	keys := make([]string, 0)
	for iter.Next(cmdCtx.Ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan redis: %w", err)
	}
	return keys, nil
}

func sample(keys []string, n int) []string {
	if len(keys) <= n {
		return keys
	}
	return keys[:n]
}
