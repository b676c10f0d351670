// Package main is the entry point for the warmbox server.
//
// Warmbox keeps a pool of pre-started containers per language runtime and
// runs submitted function code in them, resetting each container between
// invocations instead of paying a cold start. Executions are served as MCP
// tools over stdio or HTTP and, optionally, over NATS request/reply.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
// Pools are filled on start and drained and destroyed on stop.
package main
