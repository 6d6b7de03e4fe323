// Package app provides the application service layer.
//
// Orchestrates use cases: connection registration, broadcast fan-out, orphan cleanup.
// Sits between transports (HTTP, WebSocket) and the domain ports. Depends on domain
// interfaces, not concrete store or delivery implementations.
package app
