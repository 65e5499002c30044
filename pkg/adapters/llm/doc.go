// Package llm provides step executors backed by language models.
//
// The factory creates the agent executor based on provider configuration.
// Currently supports:
//   - Anthropic Claude through the messages API
//
// Agent executors serve process messages that carry an AgentInvocation; the
// worker router sends them there when no node specific executor is registered.
package llm
