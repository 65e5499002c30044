// Package messages turns fired invocation edges into process messages for the step executor.
package messages
