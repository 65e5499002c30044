// Package state implements the per-run variable store.
//
// The store:
//   - Seeds declared variables with their defaults
//   - Addresses values by dotted path, the first segment naming the variable
//   - Applies set / increment / decrement updates atomically
//   - Enforces variable ACLs and immutability
package state
