// Package status holds the connector's observable state.
//
// Service implements the connector's status sink: it keeps the latest
// per-channel status string, the last market data quote and status report,
// and a short recent log of each. Every change is published as an Event to
// subscribers over bounded channels; a subscriber that falls behind loses
// events rather than slowing the connector.
//
// # Recent Logs
//
// Recent logs are fixed-capacity FIFO rings (10 entries). Adding to
// a full ring evicts the oldest entry.
//
// # Usage
//
//	svc := status.NewService(status.Options{}, logger)
//	events, cancel := svc.Subscribe()
//	defer cancel()
//
//	for ev := range events {
//	    ...
//	}
package status
