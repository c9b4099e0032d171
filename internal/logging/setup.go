// Package logging configures the shared logrus logger from gateway
// configuration and provides request-scoped logging helpers.
package logging

import (
	"strings"

	"kiro-gateway/internal/config"

	log "github.com/sirupsen/logrus"
)

// Setup configures the global logrus logger's level and formatter from
// configuration. Idempotent; the most recent call wins.
func Setup(cfg *config.Config) error {
	var formatter log.Formatter
	if cfg != nil && strings.EqualFold(cfg.Logging.Format, "json") {
		formatter = &log.JSONFormatter{}
	} else {
		formatter = &log.TextFormatter{FullTimestamp: true}
	}
	log.SetFormatter(formatter)

	level := log.InfoLevel
	if cfg != nil {
		if parsed, err := log.ParseLevel(cfg.Logging.Level); err == nil {
			level = parsed
		}
	}
	log.SetLevel(level)
	return nil
}
