package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.StoreDriver != "memory" {
		t.Fatalf("store driver=%q want memory", cfg.StoreDriver)
	}
	if cfg.BatchSize != 100 || cfg.Concurrency != 4 || cfg.MaxRetries != 3 {
		t.Fatalf("batch defaults=%d/%d/%d", cfg.BatchSize, cfg.Concurrency, cfg.MaxRetries)
	}
	if cfg.QueryCacheTTL != 5*time.Minute {
		t.Fatalf("ttl=%v", cfg.QueryCacheTTL)
	}
	if len(cfg.Sources) != len(SourceNames) {
		t.Fatalf("sources=%v", cfg.Sources)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "PostGIS")
	t.Setenv("H3_RES", "99")
	t.Setenv("BATCH_RETRY_DELAY", "250ms")
	t.Setenv("SIMPLIFY_HIGH_QUALITY", "yes")
	t.Setenv("SOURCE_IMAGERY_ENDPOINT", "https://catalog.example/search")
	t.Setenv("SOURCE_IMAGERY_RPM", "30")
	t.Setenv("SOURCE_IMAGERY_OPTIONS", "probe=true, maxCloud = 20 ,junk")
	t.Setenv("S3_REGION", "eu-north-1")
	t.Setenv("QUERY_CACHE_MIN_HITS", "2.5")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_POOL_SIZE", "20")
	t.Setenv("REDIS_READ_TIMEOUT", "2s")

	cfg := FromEnv()
	if cfg.StoreDriver != "postgis" {
		t.Fatalf("store driver=%q", cfg.StoreDriver)
	}
	if cfg.H3Res != 8 {
		t.Fatalf("out of range res not reset: %d", cfg.H3Res)
	}
	if cfg.RetryDelay != 250*time.Millisecond || !cfg.SimplifyHighQuality {
		t.Fatalf("retry=%v hq=%v", cfg.RetryDelay, cfg.SimplifyHighQuality)
	}
	img := cfg.Sources["imagery"]
	if img.Endpoint != "https://catalog.example/search" || img.RequestsPerMinute != 30 {
		t.Fatalf("imagery=%+v", img)
	}
	if len(img.Options) != 2 || img.Options["probe"] != "true" || img.Options["maxCloud"] != "20" {
		t.Fatalf("options=%v", img.Options)
	}
	if cfg.Sources["archive"].Options["s3Region"] != "eu-north-1" {
		t.Fatalf("archive options=%v", cfg.Sources["archive"].Options)
	}
	if cfg.QueryCacheMinHits != 2.5 || cfg.HotnessHalfLife != time.Minute {
		t.Fatalf("min hits=%v half life=%v", cfg.QueryCacheMinHits, cfg.HotnessHalfLife)
	}
	if cfg.RedisDB != 3 || cfg.RedisPoolSize != 20 || cfg.RedisReadTimeout != 2*time.Second || cfg.RedisDialTimeout != 0 {
		t.Fatalf("redis db=%d pool=%d read=%v dial=%v", cfg.RedisDB, cfg.RedisPoolSize, cfg.RedisReadTimeout, cfg.RedisDialTimeout)
	}
}
