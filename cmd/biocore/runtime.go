package main

import (
	"context"
	"os"
	"strings"
	"time"

	biocore "github.com/goliatone/go-biocore"
	"github.com/goliatone/go-biocore/config"
	"github.com/goliatone/go-biocore/conflict"
	"github.com/goliatone/go-biocore/coordinator"
	"github.com/goliatone/go-biocore/cron"
	"github.com/goliatone/go-biocore/dashboard"
	"github.com/goliatone/go-biocore/entity"
	"github.com/goliatone/go-biocore/modules"
	"github.com/goliatone/go-biocore/router"
	"github.com/goliatone/go-biocore/runner"
	"github.com/redis/go-redis/v9"
)

// runtime is the wired process: machines publishing through the
// coordinator, the router with the default module rules, and the jobs.
type runtime struct {
	cfg       config.Config
	logger    biocore.Logger
	machines  *entity.Machines
	exec      *entity.Executors
	router    *router.Router
	conflicts *conflict.Engine
	dashboard *dashboard.Dashboard
	coord     *coordinator.Coordinator
	sweep     *coordinator.OverdueSweep
	scheduler *cron.Scheduler
	registry  *biocore.Registry
	redis     redis.UniversalClient
}

func newRuntime(cfg config.Config, logger biocore.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	dash, err := dashboard.New(
		dashboard.WithRecentLimit(cfg.Dashboard.RecentLimit),
		dashboard.WithConflictLimit(cfg.Dashboard.ConflictLimit),
		dashboard.WithNamespace(cfg.Dashboard.Namespace),
	)
	if err != nil {
		return nil, err
	}
	rt.dashboard = dash

	routes, err := cfg.RouteTable()
	if err != nil {
		return nil, err
	}
	rt.router = router.New(
		router.WithLogger(logger),
		router.WithTracker(dash),
		router.WithRoutes(routes),
		router.WithHandlerTimeout(cfg.Router.HandlerTimeout),
		router.WithMaxConcurrency(cfg.Router.MaxConcurrency),
		router.WithRetries(cfg.Router.MaxRetries, runner.ExponentialBackoffStrategy{
			Base:   cfg.Router.RetryBackoff,
			Factor: 2,
			Max:    cfg.Router.HandlerTimeout,
		}),
	)
	if err := modules.Register(rt.router, modules.Options{
		Threshold: cfg.Scoring.EscalationThreshold,
		Logger:    logger,
		Tracker:   dash,
	}); err != nil {
		return nil, err
	}

	safety, err := cfg.SafetyModules()
	if err != nil {
		return nil, err
	}
	rt.conflicts = conflict.NewEngine(
		conflict.WithRetention(cfg.Conflict.Retention),
		conflict.WithSafetyModules(safety...),
		conflict.WithLogger(logger),
		conflict.WithRecorder(dash),
	)

	rt.coord = coordinator.New(rt.router, rt.conflicts,
		coordinator.WithRecorder(dash),
		coordinator.WithThreshold(cfg.Scoring.EscalationThreshold),
		coordinator.WithLogger(logger),
	)

	rt.machines, err = entity.NewMachines(entity.Options{
		Logger:  logger,
		Publish: rt.coord.Publisher(),
	})
	if err != nil {
		return nil, err
	}

	stores := entity.MemoryStores()
	if cfg.Store.Driver == config.StoreRedis {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		stores = entity.RedisStores(rt.redis, cfg.Store.Redis.KeyPrefix, cfg.Store.Redis.TTL)
	}
	if rt.exec, err = entity.NewExecutors(rt.machines, stores); err != nil {
		return nil, err
	}

	rt.sweep = coordinator.NewOverdueSweep(rt.exec.Invoices, cfg.Scheduler.OverdueSweep,
		coordinator.WithSweepLogger(logger),
	)

	schedOpts := []cron.Option{cron.WithLogger(logger), cron.WithLogLevel(cron.ParseLogLevel(cfg.Logging.Level))}
	if cfg.Scheduler.Location != "" {
		loc, err := time.LoadLocation(cfg.Scheduler.Location)
		if err != nil {
			return nil, err
		}
		schedOpts = append(schedOpts, cron.WithLocation(loc))
	}
	rt.scheduler = cron.NewScheduler(schedOpts...)

	rt.registry = biocore.NewRegistry().SetCronRegister(rt.scheduler.Register)
	if err := rt.registry.RegisterCommand(rt.sweep); err != nil {
		return nil, err
	}
	if err := rt.registry.Initialize(); err != nil {
		return nil, err
	}
	return rt, nil
}

// snapshotJob logs the dashboard headline on the configured interval.
func (rt *runtime) snapshotJob() (cron.Handle, error) {
	return rt.scheduler.ScheduleCron(biocore.HandlerConfig{
		Expression: rt.cfg.Scheduler.SnapshotInterval,
	}, func(context.Context) error {
		data := rt.dashboard.GetDashboardData()
		biocore.WithLoggerFields(rt.logger, map[string]any{
			"health":       data.Health,
			"interactions": data.TotalInteractions,
			"failed":       data.FailedInteractions,
			"transitions":  data.Transitions,
			"conflicts":    len(data.RecentConflicts),
		}).Info("dashboard snapshot")
		return nil
	})
}

func (rt *runtime) Close() error {
	if rt.redis != nil {
		return rt.redis.Close()
	}
	return nil
}

// loadConfig reads path when given and the defaults otherwise.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		cfg := config.Defaults()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

// configPath finds --config or -c ahead of kong parsing, since the dynamic
// job commands need the wired runtime before the command line is parsed.
func configPath(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "--config" || arg == "-c":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(arg, "--config="):
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return os.Getenv("BIOCORE_CONFIG")
}
