// Package model defines the message schemas exchanged with the trading bus.
//
// Conventions:
//   - Wire payloads are UTF-8 JSON objects with PascalCase keys.
//   - Timestamps are time.Time in UTC; see Timestamp decoding in codec.go.
//   - Values are passed by copy and never mutated after decode.
package model
