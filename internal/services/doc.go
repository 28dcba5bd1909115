// Package services holds the in-process domain collaborators of the
// connector: funding, risk, evaluation, strategy and performance.
//
// They carry no trading logic. StrategyManager and PerformanceManager
// receive decoded bus messages from the connector and count what they see;
// the others only announce themselves.
package services
