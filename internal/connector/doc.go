// Package connector bridges the trading bus into the process.
//
// A Worker owns three sockets from a transport.SocketSet:
//
//   - SUB (market data): two-frame messages, topic then JSON payload
//   - REQ (commands): one JSON frame out, one opaque reply frame back
//   - PULL (status reports): one JSON frame
//
// The Reactor runs one receiver goroutine per inbound socket and a single
// dispatch loop that invokes handlers in arrival order. Handlers decode
// payloads and forward them to the strategy and performance collaborators
// and to the status sink. A bad payload is logged and dropped; it never
// stops the loop.
//
// A receive error that is not part of teardown means the bus peer went
// away. The channel is reported as "Error: ..." and its socket is redialed
// with exponential backoff; once connected it reports "Connected to ..."
// again and the receiver carries on with the new socket.
//
// The CommandChannel allows one request/reply round at a time and waits a
// bounded time for the reply. After a timeout or a lost peer the REQ socket
// is replaced; if that fails, the next round redials before sending.
//
// # Lifecycle
//
//	created → initializing → connecting → running → stopping → stopped
//	                 ↘            ↘
//	                  failed       failed
//
// Start blocks until the context is cancelled or Stop is called. Stop waits
// for Start to return, bounded by its context, and forces the sockets closed
// if the wait times out.
package connector
