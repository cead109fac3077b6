// Command routing-core runs the adaptive routing layer: instance registry,
// load balancing strategies, circuit breakers, rate limiting, health probing
// and fleet auto scaling, wired together from configuration.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/isectech/routing-core/config"
	"github.com/isectech/routing-core/pkg/autoscaler"
	"github.com/isectech/routing-core/pkg/balancer"
	"github.com/isectech/routing-core/pkg/circuitbreaker"
	"github.com/isectech/routing-core/pkg/healthprobe"
	"github.com/isectech/routing-core/pkg/healthshare"
	"github.com/isectech/routing-core/pkg/logging"
	"github.com/isectech/routing-core/pkg/metrics"
	"github.com/isectech/routing-core/pkg/ratelimit"
	"github.com/isectech/routing-core/pkg/registry"
	"github.com/isectech/routing-core/pkg/router"
	"github.com/isectech/routing-core/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "routing-core: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return err
	}

	m := metrics.New(nil)
	reg := registry.NewRegistry(logger)

	strategy, err := balancer.New(balancer.Kind(cfg.Strategy), logger)
	if err != nil {
		return err
	}
	if listener, ok := strategy.(registry.MembershipListener); ok {
		reg.AddListener(listener)
	}

	for _, ic := range cfg.Instances {
		inst := registry.NewServiceInstance(ic.ID, ic.Address, ic.Weight)
		if err := reg.Register(inst); err != nil {
			return err
		}
	}

	breakers := circuitbreaker.NewManager(&cfg.CircuitBreaker, logger)

	var redisClient redis.UniversalClient
	if cfg.RateLimit.Backend == "sliding_window" || cfg.HealthShare.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.Database,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
	}

	limiter, err := buildLimiter(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	rule, err := cfg.Rule()
	if err != nil {
		return err
	}

	var healthStore *healthshare.Store
	if cfg.HealthShare.Enabled {
		healthStore, err = healthshare.NewStore(redisClient, &healthshare.Config{TTL: cfg.HealthShare.TTL}, logger)
		if err != nil {
			return err
		}
	}

	probe := healthprobe.New(&cfg.HealthProbe, reg, nil, logger,
		healthprobe.WithResultSink(probeSink(reg, healthStore, m, logger)))

	provisioner := autoscaler.NewStaticPoolProvisioner(cfg.StandbyAddresses)
	scaler, err := autoscaler.New(&cfg.AutoScaler, reg, breakers, provisioner, logger,
		autoscaler.WithMetrics(m))
	if err != nil {
		return err
	}

	rt := router.New(reg, strategy, breakers, logger,
		router.WithMetrics(m),
		router.WithRateLimit(limiter, rule),
	)

	ctx := context.Background()
	probe.Start(ctx)
	scaler.Start(ctx)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics listener failed", zap.Error(err))
			}
		}()
	}

	gs := shutdown.New(30*time.Second, logger)
	gs.AddHook(shutdown.Hook{
		Name:     "background-loops",
		Priority: shutdown.PriorityBackgroundLoops,
		Fn: func(context.Context) error {
			scaler.Stop()
			probe.Stop()
			return nil
		},
	})
	if metricsServer != nil {
		gs.AddHook(shutdown.Hook{
			Name:     "metrics-listener",
			Priority: shutdown.PriorityRegistry,
			Fn:       metricsServer.Shutdown,
		})
	}
	if redisClient != nil {
		gs.AddHook(shutdown.Hook{
			Name:     "redis",
			Priority: shutdown.PriorityStores,
			Fn: func(context.Context) error {
				return redisClient.Close()
			},
		})
	}
	gs.AddHook(shutdown.Hook{
		Name:     "logger",
		Priority: shutdown.PriorityLogger,
		Fn: func(context.Context) error {
			_ = logger.Sync()
			return nil
		},
	})

	logger.Info("Routing core started",
		zap.String("strategy", rt.Stats().Strategy),
		zap.Int("instances", reg.Len()),
		zap.String("rate_limit_backend", cfg.RateLimit.Backend),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)

	gs.Listen()
	gs.Wait()
	return nil
}

// buildLimiter selects the configured admission control backend.
func buildLimiter(cfg *config.Config, redisClient redis.UniversalClient, logger *zap.Logger) (ratelimit.Checker, error) {
	switch cfg.RateLimit.Backend {
	case "token_bucket":
		return ratelimit.NewTokenBucketLimiter(logger), nil
	case "sliding_window":
		swCfg := ratelimit.DefaultSlidingWindowConfig()
		swCfg.FailurePolicy = ratelimit.FailurePolicy(cfg.RateLimit.FailurePolicy)
		return ratelimit.NewSlidingWindowLimiter(redisClient, swCfg, logger)
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}
}

// probeSink feeds probe results into metrics and, when enabled, publishes the
// probed instance's snapshot to the shared health store.
func probeSink(reg *registry.Registry, store *healthshare.Store, m *metrics.Metrics, logger *zap.Logger) func(healthprobe.Result) {
	return func(result healthprobe.Result) {
		m.ProbeResults.WithLabelValues(string(result.Status)).Inc()

		if store == nil {
			return
		}
		inst, ok := reg.Get(result.Component)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.Publish(ctx, inst.Snapshot()); err != nil {
			logger.Warn("Failed to publish health snapshot",
				zap.String("instance_id", inst.ID),
				zap.Error(err),
			)
		}
	}
}
