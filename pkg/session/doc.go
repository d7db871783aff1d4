/*
Package session keeps the login attempts of a process addressable by id.

Remote surfaces (the HTTP API, the MCP server) drive a handshake across several
calls. The Manager stores each attempt between those calls and serializes the
operations on it, using local reference-counted locks and, optionally, a
distributed lock so only one replica drives a given attempt at a time.
*/
package session
