// Package main is the entry point for the sandboxd server.
//
// sandboxd executes untrusted, user-submitted Python scripts inside
// ephemeral Docker containers and exposes their outcome through an
// asynchronous, poll-based HTTP API, optionally alongside an MCP tool
// surface. A background reaper reclaims sessions abandoned by their clients.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
