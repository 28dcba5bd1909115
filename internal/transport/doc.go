// Package transport owns the three ZeroMQ sockets of the trading bus.
//
// The SocketSet:
//   - Creates a SUB, a REQ and a PULL socket through a Factory
//   - Dials each socket to its configured endpoint (SUB uses the empty filter)
//   - Releases every socket exactly once, however many times Close is called
//   - Replaces any one socket on demand (Redial) after a lost peer or reply
//
// The zmq4 Factory keeps retrying a dial until the peer appears when
// Options.DialMaxRetries is -1. Dialing never holds the set's lock, so Close
// and a cancelled context cut it short.
package transport
