package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tablescan/am"
	"github.com/teranos/tablescan/dispatch"
	"github.com/teranos/tablescan/logger"
	"github.com/teranos/tablescan/splits"
	"github.com/teranos/tablescan/sym"
)

// WorkerCmd runs the split planning and partition read workers
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: sym.Worker + " Run workers that plan splits and read partitions",
	Long: sym.Worker + ` worker - process submitted descriptors

Each submitted descriptor becomes a planning job that fans out into one read
job per partition. Workers poll the queue until interrupted; Ctrl+C lets
running jobs finish or re-queues them.

Each running job is leased to the worker process that claimed it and the
lease is renewed while the job runs. Jobs whose lease expired, left behind
by a crashed worker, are re-queued on startup and by a periodic sweep; jobs
held by other live workers are left alone. Changes to splits.reader in the
project am.toml apply without a restart.

Examples:
  tablescan worker                # Run until interrupted
  tablescan worker --workers 4    # Override dispatch.workers
  tablescan worker --drain        # Process everything queued, then exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		workers, _ := cmd.Flags().GetInt("workers")
		if cmd.Flags().Changed("workers") {
			cfg.Dispatch.Workers = workers
		}
		drain, _ := cmd.Flags().GetBool("drain")

		if drain {
			n, err := runWorkerDrain(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Processed %d job(s)", n)
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runWorker(ctx, cfg)
	},
}

func init() {
	WorkerCmd.Flags().Int("workers", 1, "Number of concurrent workers (default from dispatch.workers)")
	WorkerCmd.Flags().Bool("drain", false, "Process queued jobs on one worker and exit when the queue is empty")
}

// workerRuntime is a pool with the split handlers registered
type workerRuntime struct {
	pool   *dispatch.WorkerPool
	reader *splits.SwitchReader
	close  func()
}

func newWorkerRuntime(ctx context.Context, cfg *am.Config) (*workerRuntime, error) {
	reader, err := splits.NewReader(cfg.Splits.Reader)
	if err != nil {
		return nil, err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	pool := dispatch.NewWorkerPool(ctx, database, dispatch.PoolConfig{
		Workers:       cfg.Dispatch.Workers,
		PollInterval:  cfg.PollInterval(),
		MaxRetries:    cfg.Dispatch.MaxRetries,
		LeaseDuration: cfg.LeaseDuration(),
	}, logger.Logger)

	switchReader := splits.NewSwitchReader(reader)
	splits.RegisterHandlers(pool.Registry(), pool.Queue(), switchReader, logger.Logger)

	return &workerRuntime{
		pool:   pool,
		reader: switchReader,
		close:  func() { database.Close() },
	}, nil
}

// applyConfig swaps the split reader when splits.reader changes
func (rt *workerRuntime) applyConfig(cfg *am.Config) error {
	reader, err := splits.NewReader(cfg.Splits.Reader)
	if err != nil {
		return err
	}
	rt.reader.Set(reader)
	logger.Infow("Split reader reloaded", "reader", cfg.Splits.Reader)
	return nil
}

func runWorkerDrain(ctx context.Context, cfg *am.Config) (int, error) {
	rt, err := newWorkerRuntime(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer rt.close()
	return rt.pool.Drain(ctx)
}

func runWorker(ctx context.Context, cfg *am.Config) error {
	rt, err := newWorkerRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	if path := am.ProjectConfigPath(); path != "" {
		watcher, err := am.NewConfigWatcher(path)
		if err != nil {
			logger.Warnw("Config changes will need a restart", logger.FieldPath, path, logger.FieldError, err)
		} else {
			watcher.OnReload(rt.applyConfig)
			watcher.Start()
			defer watcher.Stop()
		}
	}

	updates := rt.pool.Queue().Subscribe()
	defer rt.pool.Queue().Unsubscribe(updates)

	rt.pool.Start()
	pterm.Info.Printfln("%s Worker started with %d worker(s), polling every %v",
		sym.WorkerOpen, rt.pool.Workers(), cfg.PollInterval())
	pterm.Info.Println("Press Ctrl+C for graceful shutdown")

	for {
		select {
		case job := <-updates:
			reportJob(job)
		case <-ctx.Done():
			pterm.Info.Printfln("%s Shutting down...", sym.WorkerClose)
			rt.pool.Stop()
			pterm.Success.Println("Worker stopped")
			return nil
		}
	}
}

func reportJob(job *dispatch.Job) {
	switch job.Status {
	case dispatch.JobStatusCompleted:
		pterm.Success.Printfln("%s %s %s", sym.Partition, job.HandlerName, job.ID)
	case dispatch.JobStatusFailed:
		pterm.Error.Printfln("%s %s %s: %s", sym.Partition, job.HandlerName, job.ID, job.Error)
	}
}
