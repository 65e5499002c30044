// Package workers implements the worker pool executing process messages.
//
// The pool subscribes once to the step request topic and feeds a fixed number of
// goroutines that:
//   - Decode the process message carried by each bus event
//   - Run it through a StepExecutor (usually a Router of per node executors)
//   - Report the result or failure back through a StepReporter so it re-enters the graph
//
// The health monitor tracks worker status and records pool metrics.
package workers
