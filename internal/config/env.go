package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides layers environment variables onto the loaded config,
// simplified to this gateway's smaller surface: every field is overridable
// via "KIRO_<SECTION>_<FIELD>".
func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}

	str("KIRO_SERVER_HOST", &cfg.Server.Host)
	num("KIRO_SERVER_PORT", &cfg.Server.Port)

	str("KIRO_KIRO_REGION", &cfg.Kiro.Region)
	str("KIRO_KIRO_AUTH_REGION", &cfg.Kiro.AuthRegion)
	str("KIRO_KIRO_API_REGION", &cfg.Kiro.APIRegion)
	str("KIRO_KIRO_VERSION", &cfg.Kiro.KiroVersion)
	str("KIRO_KIRO_MACHINE_ID", &cfg.Kiro.MachineID)
	str("KIRO_KIRO_API_KEY", &cfg.Kiro.APIKey)
	str("KIRO_KIRO_SYSTEM_VERSION", &cfg.Kiro.SystemVersion)
	str("KIRO_KIRO_NODE_VERSION", &cfg.Kiro.NodeVersion)
	str("KIRO_KIRO_TLS_BACKEND", &cfg.Kiro.TLSBackend)
	str("KIRO_KIRO_COUNT_TOKENS_API_URL", &cfg.Kiro.CountTokensURL)
	str("KIRO_KIRO_COUNT_TOKENS_API_KEY", &cfg.Kiro.CountTokensKey)
	str("KIRO_KIRO_COUNT_TOKENS_AUTH_TYPE", &cfg.Kiro.CountTokensAuth)

	str("KIRO_PROXY_URL", &cfg.Proxy.URL)
	str("KIRO_PROXY_USERNAME", &cfg.Proxy.Username)
	str("KIRO_PROXY_PASSWORD", &cfg.Proxy.Password)

	str("KIRO_ADMIN_API_KEY", &cfg.Admin.APIKey)
	str("KIRO_ADMIN_USERNAME", &cfg.Admin.Username)
	str("KIRO_ADMIN_PASSWORD", &cfg.Admin.Password)

	str("KIRO_ROUTING_LOAD_BALANCING_MODE", &cfg.Routing.LoadBalancingMode)
	num("KIRO_ROUTING_MAX_CONCURRENT_PER_CREDENTIAL", &cfg.Routing.MaxConcurrentPerCredential)
	num("KIRO_ROUTING_MAX_CONCURRENT_PER_KEY", &cfg.Routing.MaxConcurrentPerKey)
	num("KIRO_ROUTING_STICKY_EXPIRY_MINUTES", &cfg.Routing.StickyExpiryMinutes)
	num("KIRO_ROUTING_ZOMBIE_STREAM_TIMEOUT_MINUTES", &cfg.Routing.ZombieStreamTimeoutMinutes)
	num("KIRO_ROUTING_CONSECUTIVE_FAIL_LIMIT", &cfg.Routing.ConsecutiveFailLimit)
	num("KIRO_ROUTING_REFRESH_AHEAD_SECONDS", &cfg.Routing.RefreshAheadSeconds)

	str("KIRO_LOGGING_LOG_LEVEL", &cfg.Logging.Level)
	str("KIRO_LOGGING_LOG_FORMAT", &cfg.Logging.Format)
	boolean("KIRO_LOGGING_REQUEST_LOG_ENABLED", &cfg.Logging.RequestLogEnabled)
	boolean("KIRO_LOGGING_METRICS_ENABLED", &cfg.Logging.MetricsEnabled)

	str("KIRO_STORAGE_CONFIG_DIR", &cfg.Storage.ConfigDir)
	str("KIRO_STORAGE_CREDENTIALS_FILE", &cfg.Storage.CredentialsFile)
}
