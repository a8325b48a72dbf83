package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	flag "github.com/spf13/pflag"

	"crede/config"
	"crede/internal/logs"
	"crede/internal/runlock"
	"crede/server"
)

const (
	syncLockFile = "crede-sync.lock"
	jobsLockFile = "crede-jobs.lock"
)

func main() {
	cfg := config.MustLoad()

	mode := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0][0] != '-' {
		mode, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("crede", flag.ExitOnError)
	force := fs.Bool("force", false, "ignore delivery history and re-send every image")
	deviceID := fs.Uint("device", 0, "force a full resync of one reader by id")
	limit := fs.Int("limit", cfg.Jobs.Limit, "max jobs to process")
	jobID := fs.Uint("job-id", 0, "process one specific job regardless of status")
	if err := fs.Parse(args); err != nil {
		log.Fatal(err)
	}

	switch mode {
	case "serve":
		app := &server.App{}
		app.Initialize(cfg)
		if err := app.Run(); err != nil {
			log.Fatal(err)
		}
	case "cron":
		runCron(cfg)
	case "sync":
		os.Exit(runSync(cfg, *force, *deviceID))
	case "jobs":
		os.Exit(runJobs(cfg, *limit, *jobID))
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q (serve|cron|sync|jobs)\n", mode)
		os.Exit(2)
	}
}

// runCron drives the periodic tasks in-process: heartbeat staleness every
// minute, provisioning plus routine image sync every five. Sync runs are
// still guarded by the advisory lock so a parallel manual run cannot
// overlap.
func runCron(cfg *config.Config) {
	logs.Init(logs.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, File: cfg.Logging.File})
	rt, err := server.NewRuntime(cfg)
	if err != nil {
		logs.Logger.Fatalf("runtime init failed: %v", err)
	}

	c := cron.New()
	_, _ = c.AddFunc("* * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := rt.Monitor().Run(ctx); err != nil {
			logs.Logger.Errorf("heartbeat monitor: %v", err)
		}
	})
	_, _ = c.AddFunc("*/5 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Sync.RunSec)*time.Second)
		defer cancel()
		if err := rt.Provisioner().Run(ctx); err != nil {
			logs.Logger.Errorf("provisioning: %v", err)
		}
		syncOnce(ctx, cfg, rt, false, 0)
	})
	c.Start()
	logs.Logger.Info("cron scheduler started")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigs
	logs.Logger.Infof("shutdown signal: %s", s)
	<-c.Stop().Done()
}

// runSync performs one synchronization run. Exit codes follow the
// historical contract of the sync script: 1 = lock held, 2 = deadline
// exceeded, 3 = fatal error.
func runSync(cfg *config.Config, force bool, deviceID uint) int {
	logs.Init(logs.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, File: cfg.Logging.File})
	rt, err := server.NewRuntime(cfg)
	if err != nil {
		logs.Logger.Errorf("runtime init failed: %v", err)
		return 3
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Sync.RunSec)*time.Second)
	defer cancel()

	if !syncOnce(ctx, cfg, rt, force, deviceID) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 2
		}
		return 1
	}
	return 0
}

// syncOnce acquires the advisory lock, runs the coordinator and releases
// the lock on every path. Returns false when the run could not start or
// did not finish.
func syncOnce(ctx context.Context, cfg *config.Config, rt *server.Runtime, force bool, deviceID uint) bool {
	lock, err := runlock.Acquire(cfg.Sync.LockDir, syncLockFile)
	if err != nil {
		if errors.Is(err, runlock.ErrHeld) {
			logs.Logger.Warn("another synchronization run is in progress, skipping")
		} else {
			logs.Logger.Errorf("acquiring sync lock: %v", err)
		}
		return false
	}
	defer lock.Release()

	start := time.Now()
	coord := rt.Coordinator()

	if deviceID != 0 {
		dev, err := rt.Devices.ByID(ctx, deviceID)
		if err != nil {
			logs.Logger.Errorf("reader %d: %v", deviceID, err)
			return false
		}
		// Forced single-reader resync ignores delivery history.
		if err := coord.SyncDevice(ctx, dev, true); err != nil {
			logs.Logger.Errorf("reader %s: forced sync failed: %v", dev.Name, err)
			return false
		}
	} else {
		if err := coord.Run(ctx, force); err != nil {
			logs.Logger.Errorf("synchronization run failed: %v", err)
			return false
		}
	}
	logs.Logger.Infof("synchronization finished in %.2fs", time.Since(start).Seconds())
	return ctx.Err() == nil
}

// runJobs processes the on-demand distribution queue once.
func runJobs(cfg *config.Config, limit int, jobID uint) int {
	logs.Init(logs.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, File: cfg.Logging.File})
	rt, err := server.NewRuntime(cfg)
	if err != nil {
		logs.Logger.Errorf("runtime init failed: %v", err)
		return 3
	}

	lock, err := runlock.Acquire(cfg.Sync.LockDir, jobsLockFile)
	if err != nil {
		if errors.Is(err, runlock.ErrHeld) {
			logs.Logger.Warn("another job worker is running, skipping")
		} else {
			logs.Logger.Errorf("acquiring jobs lock: %v", err)
		}
		return 1
	}
	defer lock.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Sync.RunSec)*time.Second)
	defer cancel()

	start := time.Now()
	processed, succeeded, err := rt.JobWorker().Run(ctx, limit, jobID)
	if err != nil {
		logs.Logger.Errorf("job processing failed: %v", err)
		return 3
	}
	logs.Logger.Infof("jobs processed: %d, succeeded: %d, failed: %d, duration: %.2fs",
		processed, succeeded, processed-succeeded, time.Since(start).Seconds())
	return 0
}
