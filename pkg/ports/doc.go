// Package ports declares the interfaces between the process core and its collaborators:
// condition evaluation, step dispatch and execution, event transport, snapshot storage and metrics.
package ports
