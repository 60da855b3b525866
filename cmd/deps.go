package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/AurelienDEMEUSY/SUI-patreon/config"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/cache"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/metrics"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/search"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/tracing"
)

// initCache falls back to a disabled cache when Redis is unreachable
func initCache(cfg config.RedisConfig) *cache.RedisCache {
	redisCache, err := cache.NewRedisCache(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache, _ = cache.NewRedisCache(config.RedisConfig{Enabled: false})
	}
	return redisCache
}

// initTracer falls back to a disabled tracer
func initTracer(cfg config.TracingConfig) tracing.Tracer {
	tracer, err := tracing.NewTracer(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		return tracing.Noop()
	}
	return tracer
}

// initSearch falls back to a disabled client
func initSearch(cfg config.ElasticConfig) *search.ElasticClient {
	elasticClient, err := search.NewElasticClient(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
		elasticClient, _ = search.NewElasticClient(config.ElasticConfig{Enabled: false})
	}
	return elasticClient
}

// initMetrics creates a registry with the runtime collectors and ours
func initMetrics() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.New(reg)
}
