// Package server implements the HTTP API of the file exchanger: the flat
// shared folder, password protected rooms, health probes and metrics. It
// wires the routes to the room registry and storage folders handed in
// through Config and provides lifecycle helpers used by tests and the
// production binary.
package server
