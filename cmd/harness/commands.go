package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Adelost/harness"
	"github.com/Adelost/harness/internal/cluster"
	"github.com/Adelost/harness/internal/env"
	"github.com/Adelost/harness/internal/journal"
	"github.com/Adelost/harness/internal/reaper"
	"github.com/Adelost/harness/internal/server"
	"github.com/Adelost/harness/internal/service"
)

const stopGrace = 30 * time.Second

// runServices starts every configured service in order and blocks until an
// interrupt, then stops them in reverse order.
func runServices(ctx context.Context, f RunFlags) error {
	cfg, err := harness.LoadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	harness.SetupLogging(cfg.LogLevel, true)

	reg := reaper.Default()
	var jr *journal.Journal
	if cfg.Journal != "" {
		jr, err = journal.Open(cfg.Journal)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer func() { _ = jr.Close() }()
		reg.SetJournal(jr)
		reg.SweepStale(ctx)
	}

	e := env.New()
	for _, kv := range cfg.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}

	c, err := cluster.Start(ctx, cfg.Services, service.Options{Registry: reg, Journal: jr, Env: e})
	if err != nil {
		return err
	}

	if f.APIAddr != "" {
		srv := server.NewServer(f.APIAddr, f.APIBase, c)
		defer func() { _ = srv.Close() }()
		fmt.Printf("status API listening on %s\n", f.APIAddr)
	}

	for _, s := range c.Services() {
		fmt.Printf("started %s (pid %d) in %v\n", s.Name(), s.PID(), s.Startup().Round(time.Millisecond))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	signal.Stop(sigCh)

	stopCtx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	return c.StopAll(stopCtx)
}

// checkConfig loads and validates the config, printing what would be started.
func checkConfig(f CheckFlags) error {
	cfg, err := harness.LoadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	for _, s := range cfg.Services {
		ready := s.Ready.Signal
		if ready == "" {
			ready = s.Ready.URL
		}
		fmt.Printf("%s: %s %s (ready: %s)\n", s.Name, s.Command, strings.Join(s.Args, " "), ready)
	}
	fmt.Printf("config OK: %d service(s)\n", len(cfg.Services))
	return nil
}

// listZombies reports journal entries from dead runs whose pid still points
// at the process spawned back then. With --kill they are terminated.
func listZombies(ctx context.Context, f ZombieFlags) error {
	path := f.JournalPath
	if path == "" {
		if f.ConfigPath == "" {
			return fmt.Errorf("either --journal or --config is required")
		}
		cfg, err := harness.LoadConfig(f.ConfigPath)
		if err != nil {
			return err
		}
		if cfg.Journal == "" {
			return fmt.Errorf("config has no journal configured")
		}
		path = cfg.Journal
	}
	jr, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = jr.Close() }()

	orphans, err := jr.Orphans(ctx)
	if err != nil {
		return err
	}
	stale := 0
	for _, e := range orphans {
		if reaper.Alive(e.RunnerPID) {
			continue // spawning run is still alive, not a zombie
		}
		alive := reaper.Alive(e.PID) && e.StartUnix != 0 && reaper.StartUnix(e.PID) == e.StartUnix
		if !alive {
			_ = jr.Resolve(ctx, e)
			continue
		}
		stale++
		fmt.Printf("%s: pid %d (run %s)\n", e.Name, e.PID, e.RunID)
	}
	if stale == 0 {
		fmt.Println("no zombies")
		return nil
	}
	if f.Kill {
		reg := reaper.New()
		reg.SetJournal(jr)
		reg.SweepStale(ctx)
		fmt.Printf("killed %d zombie(s)\n", stale)
	}
	return nil
}
