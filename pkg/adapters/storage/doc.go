// Package storage provides run snapshot storage implementations.
//
// Implementations:
//   - redis: Redis with JSON serialization, TTL and SCAN based listing
//   - memory: In-memory for tests and single process deployments
package storage
