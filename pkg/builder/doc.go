// Package builder assembles process graphs through a fluent API.
//
// A Builder owns the graph under construction. AddSource and Join return immutable handles
// whose SendTo / Update / Emit / Stop calls register edges and return fresh handles, so one
// handle can fan out to several targets. Seal validates the wiring:
//   - every referenced node id exists (the graph id itself may raise input events)
//   - targets are well formed and agent invocations target agent nodes
//   - no condition list holds more than one default
//   - state updates only address declared variables
//
// Wiring errors are collected and returned by Seal; a graph with errors never seals.
package builder
