package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pulsecast/pulsecast/internal/bandit"
	"github.com/pulsecast/pulsecast/internal/config"
	"github.com/pulsecast/pulsecast/internal/gate"
	"github.com/pulsecast/pulsecast/internal/httpapi"
	"github.com/pulsecast/pulsecast/internal/infrastructure/db"
	"github.com/pulsecast/pulsecast/internal/metrics"
	"github.com/pulsecast/pulsecast/internal/persistence"
	"github.com/pulsecast/pulsecast/internal/persistence/memory"
	"github.com/pulsecast/pulsecast/internal/publish"
	"github.com/pulsecast/pulsecast/internal/rank"
	"github.com/pulsecast/pulsecast/internal/reward"
	"github.com/pulsecast/pulsecast/internal/scheduler"
	"github.com/pulsecast/pulsecast/internal/scoring"
	"github.com/pulsecast/pulsecast/internal/trend"
)

// app bundles the wired components behind each subcommand.
type app struct {
	cfg      *config.Config
	repo     *persistence.Repository
	selector *bandit.Selector
	gate     *gate.Gate
	sched    *scheduler.Scheduler
	registry *metrics.Registry
	server   *httpapi.Server

	dbman *db.Manager
	rdb   *redis.Client
}

func (a *app) close() {
	if a.dbman != nil {
		a.dbman.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}

// buildApp loads config and wires the full pipeline. withServer controls
// whether the HTTP surface (and its websocket event sink) is constructed.
func buildApp(ctx context.Context, configPath string, withServer bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	a := &app{cfg: cfg, registry: metrics.NewRegistry()}

	if cfg.Database.Enabled {
		man, err := db.NewManager(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("database init: %w", err)
		}
		a.dbman = man
		a.repo = man.Repository()
	} else {
		a.repo = memory.NewRepository()
		log.Warn().Msg("running without a database, state will not survive restarts")
	}

	var cache trend.Cache
	if cfg.Redis.Enabled {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = trend.NewRedisCache(a.rdb, 2*time.Second)
	} else {
		cache = trend.NewMemoryCache()
	}

	var source trend.Source
	if cfg.Trend.SourceURL != "" {
		source = trend.NewHTTPSource(cfg.Trend.SourceURL, cfg.Trend.Timeout)
	} else {
		source = trend.NewStaticSource(nil)
		log.Warn().Msg("no trend source configured, selection will use fallback topics")
	}
	ranker := rank.NewRanker(source, scoring.NewEngine(nil), cache, cfg.Trend.Freshness, cfg.Redis.TTL)

	a.selector = bandit.NewSelector(ranker, a.repo.Arms, a.repo.Decisions, cfg.Bandit, nil)
	if !cfg.Database.Enabled {
		// The durable ledger already carries its history; only a fresh
		// in-memory ledger needs the replay.
		if _, err := bandit.WarmStart(ctx, a.repo.Decisions, a.repo.Arms, cfg.Bandit.WarmStartSpan, time.Now()); err != nil {
			log.Warn().Err(err).Msg("warm start skipped")
		}
	}

	a.gate = gate.New(a.repo.Windows, a.repo.Buckets, cfg.Gate)
	a.gate.RestoreBuckets(ctx, cfg.Scheduler.Platforms)

	var sink scheduler.EventSink
	if withServer && cfg.HTTP.Enabled {
		a.server = httpapi.NewServer(cfg.HTTP.Addr, a.repo, a.selector, cfg.Gate, cfg.Scheduler.Platforms, a.registry)
		sink = a.server.Hub()
	}

	client := publish.NewAPIClient(cfg.Publish.Endpoints, cfg.Publish.Timeout)
	publisher := publish.NewBreakerPublisher(client, cfg.Breaker)
	renderer := publish.NewCaptionRenderer(cfg.Publish.MediaDir, nil)

	a.sched = scheduler.New(cfg.Scheduler, a.selector, a.gate, renderer, publisher, client, a.repo, a.registry, sink)
	return a, nil
}

func runDaemon(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer a.close()

	if a.server != nil {
		go func() {
			if err := a.server.Start(); err != nil {
				log.Error().Err(err).Msg("http server failed")
				stop()
			}
		}()
	}

	err = a.sched.Run(ctx)

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := a.server.Shutdown(shutdownCtx); serr != nil {
			log.Warn().Err(serr).Msg("http shutdown incomplete")
		}
	}

	if err == context.Canceled {
		return nil
	}
	return err
}

func runSelect(configPath string) error {
	ctx := context.Background()
	a, err := buildApp(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer a.close()

	sel := a.selector.Select(ctx)
	return printJSON(sel)
}

func runOutcome(configPath, topic string, views, likes, shares, comments int64) error {
	ctx := context.Background()
	a, err := buildApp(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer a.close()

	outcome := reward.Outcome{Views: views, Likes: likes, Shares: shares, Comments: comments}
	if err := a.sched.ResolveOutcome(ctx, topic, outcome); err != nil {
		return err
	}

	arm, err := a.repo.Arms.Get(ctx, topic)
	if err != nil {
		return err
	}
	return printJSON(arm)
}

func runStats(configPath string) error {
	ctx := context.Background()
	a, err := buildApp(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.repo.Decisions.Stats(ctx, time.Time{})
	if err != nil {
		return err
	}
	topArms, err := a.repo.Arms.TopByAvgReward(ctx, 5)
	if err != nil {
		return err
	}

	return printJSON(map[string]interface{}{
		"stats":    stats,
		"top_arms": topArms,
		"epsilon":  a.selector.Epsilon(),
	})
}

func runGate(configPath, platform string) error {
	ctx := context.Background()
	a, err := buildApp(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer a.close()

	verdict, err := a.gate.Evaluate(ctx, platform)
	if err != nil {
		return err
	}
	return printJSON(verdict)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
