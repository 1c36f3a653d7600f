package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/cache"
	"github.com/sells-group/lead-engine/internal/dashboard"
	"github.com/sells-group/lead-engine/internal/normalize"
	"github.com/sells-group/lead-engine/internal/permission"
	"github.com/sells-group/lead-engine/internal/resilience"
	"github.com/sells-group/lead-engine/internal/store"
	"github.com/sells-group/lead-engine/internal/taxonomy"
	"github.com/sells-group/lead-engine/pkg/leadsapi"
)

// engineEnv holds the store, cache, data source and session shared by the
// serve, leads and cache commands.
type engineEnv struct {
	KV      store.KV
	Cache   *cache.Cache
	Source  leadsapi.Client
	Guard   *resilience.Guard
	Norm    *normalize.Normalizer
	Session *dashboard.Session
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Session != nil {
		e.Session.Close()
	}
	if e.KV != nil {
		_ = e.KV.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.KV, error) {
	kv, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return kv, nil
}

func initCache(kv store.KV) *cache.Cache {
	return cache.New(kv, cache.WithTTL(cfg.Cache.TTL))
}

func initSource() leadsapi.Client {
	return leadsapi.NewClient(cfg.LeadsAPI.BaseURL, cfg.LeadsAPI.Token,
		leadsapi.WithRateLimit(cfg.LeadsAPI.RateLimit, cfg.LeadsAPI.Burst),
		leadsapi.WithPageSize(cfg.LeadsAPI.PageSize),
	)
}

func initGuard() *resilience.Guard {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Fetch.MaxAttempts
	retry.InitialBackoff = cfg.Fetch.InitialBackoff
	retry.MaxBackoff = cfg.Fetch.MaxBackoff
	retry.OnRetry = resilience.RetryLogger("list leads", "")

	breaker := resilience.DefaultCircuitBreakerConfig()
	breaker.FailureThreshold = cfg.Fetch.FailureThreshold
	breaker.ResetTimeout = cfg.Fetch.ResetTimeout
	return resilience.NewGuard(retry, breaker)
}

func initOracle() (permission.Oracle, error) {
	o, err := permission.FromRole(cfg.Permission.Role, cfg.Permission.Actions...)
	if err != nil {
		return nil, eris.Wrap(err, "init permissions")
	}
	return o, nil
}

// initEngine builds everything a dashboard session needs. Callers should
// defer env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	oracle, err := initOracle()
	if err != nil {
		return nil, err
	}

	var fallback *taxonomy.Taxonomy
	if cfg.Taxonomy.File != "" {
		if fallback, err = taxonomy.ReadFile(cfg.Taxonomy.File); err != nil {
			return nil, err
		}
	}

	kv, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	env := &engineEnv{
		KV:     kv,
		Cache:  initCache(kv),
		Source: initSource(),
		Guard:  initGuard(),
		Norm:   normalize.New(),
	}
	env.Session = dashboard.New(env.Source, env.Cache,
		dashboard.WithStore(kv),
		dashboard.WithOracle(oracle),
		dashboard.WithGuard(env.Guard),
		dashboard.WithNormalizer(env.Norm),
		dashboard.WithSearchDebounce(cfg.Search.Debounce),
		dashboard.WithFallbackTaxonomy(fallback),
	)

	zap.L().Debug("engine initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("role", cfg.Permission.Role),
		zap.String("scope", string(permission.Resolve(oracle).Scope)),
	)
	return env, nil
}
