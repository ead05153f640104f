// Package runner implements the agent chain orchestrator. A Runner owns an
// ordered registry of agent builders and drives one conversation pass per
// Advance call: load state, apply the human input, run agents until one
// needs new input or the step bound is hit, persisting after every step,
// then close the stream. Failures inside an agent step are absorbed: the
// pre-step state is restored, a bounded trace is recorded, and the user
// gets a retry prompt over the same stream.
package runner
