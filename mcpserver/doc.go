// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the session engine as MCP tools using the
// mark3labs/mcp-go library: execute_code submits a script and returns a
// session id, get_result polls without blocking, and cleanup_session tears a
// session down. The server supports both stdio and HTTP transports as
// configured by the application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, eng)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
