// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap. Logs are always written to stderr so they never mix
// with the MCP stdio transport on stdout.
//
// Usage:
//
//	logger, err := logger.New("production", "info")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger.Info("pool initialized", zap.String("runtime", "python"))
package logger
