// Package logging provides structured logging for cdicache.
//
// It wraps log/slog with JSON or text output, level filtering and the
// default fields service and version on every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("cache configured", "sources", 2)
//	cache, err := cdi.NewCache(cdi.WithLogger(logger.Component("cdi")))
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
