// Package agent provides the building blocks concrete chain agents are
// assembled from: BaseAgent for bucket and emit helpers, ModelAgent for the
// common "one generation per human input" shape, and FuncAgent for inline
// behavior in wiring code and tests.
package agent
