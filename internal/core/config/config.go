package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type RefreshCfg struct {
	Enabled bool
	Driver  string
	Topic   string
	Brokers string
	GroupID string
}

type ResultCacheCfg struct {
	Enabled   bool
	RedisAddr string
	TTL       time.Duration
	TTLOvr    map[string]time.Duration
	OpTimeout time.Duration
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int

	MapbookPath     string
	MapProjection   string
	UpstreamTimeout time.Duration
	MaxInflight     int

	WFSPixelTolerance float64
	AGSPixelTolerance float64
	AGSMaxURLLength   int
	WMSFeatureCount   int

	ResultCache ResultCacheCfg
	Refresh     RefreshCfg
	Metrics     MetricsCfg
}

func FromEnv() Config {
	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		MapbookPath:     getenv("MAPBOOK_PATH", "mapbook.yaml"),
		MapProjection:   getenv("MAP_PROJECTION", "EPSG:3857"),
		UpstreamTimeout: getduration("UPSTREAM_TIMEOUT", 30*time.Second),
		MaxInflight:     getint("QUERY_MAX_INFLIGHT", 0),

		WFSPixelTolerance: getfloat("WFS_PIXEL_TOLERANCE", 10),
		AGSPixelTolerance: getfloat("AGS_PIXEL_TOLERANCE", 2),
		AGSMaxURLLength:   getint("AGS_MAX_URL_LENGTH", 2000),
		WMSFeatureCount:   getint("WMS_FEATURE_COUNT", 1000),

		ResultCache: ResultCacheCfg{
			Enabled:   getbool("RESULT_CACHE_ENABLED", false),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			TTL:       getduration("RESULT_CACHE_TTL", 60*time.Second),
			TTLOvr:    parseDurationMap(getenv("RESULT_CACHE_TTL_OVERRIDES", "")),
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		},
		Refresh: RefreshCfg{
			Enabled: getbool("REFRESH_ENABLED", false),
			Driver:  getenv("REFRESH_DRIVER", "none"),
			Topic:   getenv("KAFKA_TOPIC", "mapsource-refresh"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "mapbook-query"),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", true),
			Addr:    getenv("METRICS_ADDR", ""),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "source/layer=5m,other=30s" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			out[k] = d
		}
	}
	return out
}
