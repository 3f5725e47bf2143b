// Package httpserver provides the HTTP transport over the session engine.
//
// The server is a thin layer: it parses multipart uploads and path
// parameters, calls the engine, and maps the engine's typed errors onto
// response codes. POST /execute accepts one script file and returns a
// session id, GET /result/{session_id} polls without blocking, and
// POST /cleanup/{session_id} tears the session down.
package httpserver
