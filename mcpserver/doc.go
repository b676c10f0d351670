// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the execution dispatcher to the
// function-serving layer as MCP tools. It uses the mark3labs/mcp-go library to
// handle the protocol details and provides two tools:
//
//   - execute_function runs code once in a warm container and returns the
//     JSON-encoded dispatcher.Result
//   - pool_stats reports warm container occupancy per runtime
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, dispatcher, registry)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
