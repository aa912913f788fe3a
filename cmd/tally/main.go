package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sanity-io/litter"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"quest_tally/pkg/config"
	"quest_tally/pkg/data"
	"quest_tally/pkg/database"
	"quest_tally/pkg/forum"
	"quest_tally/pkg/scheduler"
	"quest_tally/pkg/tally"
	"quest_tally/pkg/utils"
)

var (
	configFile  = flag.String("config", "config.yaml", "Path to configuration file")
	inputFile   = flag.String("input", "", "JSON post export to tally once")
	questName   = flag.String("quest", "", "Quest name for a one-shot tally (defaults to the input file name)")
	forumKind   = flag.String("forum", "", "Forum software of the input export")
	outputFile  = flag.String("output", "", "Write the tally snapshot as JSON to this path")
	dump        = flag.Bool("dump", false, "Dump the full tally result")
	serve       = flag.Bool("serve", false, "Run configured quests on their schedules")
	metricsAddr = flag.String("metrics-addr", ":9102", "Metrics listen address in serve mode")
	debug       = flag.Bool("debug", false, "Enable debug mode")
)

// App holds the services shared by both run modes
type App struct {
	cfg    *config.Config
	db     *database.Service
	repo   data.Repository
	logger *zap.Logger
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := initializeApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	switch {
	case *inputFile != "":
		err = app.tallyOnce(ctx)
	case *serve:
		err = app.serve(ctx)
	default:
		flag.Usage()
		err = errors.New("either -input or -serve is required")
	}

	if stopErr := app.stop(); stopErr != nil {
		err = multierr.Append(err, stopErr)
	}
	if err != nil {
		logger.Error("Tally failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func initializeApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}

	if !cfg.PersistenceEnabled() {
		logger.Info("No database configured, snapshots are kept in memory")
		app.repo = data.NewMemoryRepository()
		return app, nil
	}

	initCtx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout+30*time.Second)
	defer cancel()

	db, err := database.NewService(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing database service: %w", err)
	}
	if err := db.Start(initCtx); err != nil {
		return nil, fmt.Errorf("starting database: %w", err)
	}
	app.db = db
	app.repo = db.GetRepository()
	return app, nil
}

func (a *App) stop() error {
	if a.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.db.Stop(ctx); err != nil {
		return fmt.Errorf("stopping database: %w", err)
	}
	return nil
}

func (a *App) tallyOnce(ctx context.Context) error {
	kind := forum.KindUnknown
	if *forumKind != "" {
		parsed, err := forum.ParseKind(*forumKind)
		if err != nil {
			return err
		}
		kind = parsed
	}

	quest := *questName
	if quest == "" {
		quest = questFromPath(*inputFile)
	}

	opts, err := a.cfg.TallyOptions()
	if err != nil {
		return err
	}

	posts, err := forum.NewJSONFileSource(*inputFile, kind).FetchPosts(ctx)
	if err != nil {
		return err
	}

	t, err := tally.New(opts, a.logger)
	if err != nil {
		return err
	}
	defer t.Close()

	res, err := t.Run(ctx, quest, posts)
	if err != nil {
		return err
	}

	if *dump {
		litter.Config.HidePrivateFields = true
		litter.Dump(res)
	} else {
		printReport(os.Stdout, res)
	}

	snapshot, err := data.NewSnapshot(res)
	if err != nil {
		return err
	}
	if a.db != nil {
		if err := a.repo.SaveSnapshot(ctx, snapshot); err != nil {
			return err
		}
		a.logger.Info("Snapshot saved", zap.String("id", snapshot.ID))
	}

	if *outputFile != "" {
		content, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		if err := utils.WriteFileAtomic(*outputFile, content, 0644); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) serve(ctx context.Context) error {
	if len(a.cfg.Quests) == 0 {
		return errors.New("no quests configured")
	}

	opts, err := a.cfg.TallyOptions()
	if err != nil {
		return err
	}

	sched, err := scheduler.NewScheduler(&a.cfg.Scheduler, opts, a.repo, a.logger)
	if err != nil {
		return err
	}
	defer sched.Stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := sched.UseRegisterer(reg); err != nil {
		return err
	}

	for _, q := range a.cfg.Quests {
		kind, err := forum.ParseKind(q.Forum)
		if err != nil {
			return err
		}
		if _, err := sched.ScheduleQuest(q.ID, q.Schedule, forum.NewJSONFileSource(q.Source, kind)); err != nil {
			return fmt.Errorf("scheduling %s: %w", q.ID, err)
		}
	}

	for _, q := range a.cfg.Quests {
		if _, err := sched.RunNow(ctx, q.ID); err != nil {
			a.logger.Warn("Initial tally failed", zap.String("quest", q.ID), zap.Error(err))
		}
	}
	sched.Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	srvErr := make(chan error, 1)
	utils.SafeGo(a.logger, func() {
		a.logger.Info("Serving metrics", zap.String("addr", *metricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	})

	select {
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal")
	case err = <-srvErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return multierr.Append(err, srv.Shutdown(shutdownCtx))
}

func initLogger(cfg *config.Config, debug bool) (*zap.Logger, error) {
	level := cfg.GetLogLevel()
	if debug {
		level.SetLevel(zap.DebugLevel)
	}
	return utils.NewLogger(cfg.Log, level, debug || cfg.IsDevelopment())
}
