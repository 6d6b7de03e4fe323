// Package broadcast implements the connection fan-out.
//
// The Dispatcher enumerates the connection store, builds the two payload variants once per
// broadcast and delivers them concurrently, one task per connection. A failed delivery prunes the
// connection from the store; per-connection failures never fail the broadcast itself.
package broadcast
