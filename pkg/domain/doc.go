// Package domain defines the process graph model.
//
// Entities:
//   - Node, Variable: graph declarations referenced by id
//   - EdgeTarget: invocation, state update or emission, tagged by Kind
//   - Edge, EdgeGroup: event routing and join barriers
//   - Condition: eval / always / default gates with optional updates and emits
//   - ProcessMessage, Event, RunSnapshot: runtime values
//
// Runtime and build errors are typed and match the package sentinels through errors.Is.
package domain
