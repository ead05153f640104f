// Package core defines the shared contracts and data records of AgentChain:
// dialogue turns, the persisted conversation state, the human-facing
// transcript, the chunk stream with its sink, and the Agent interface that
// every member of a conversation chain implements.
//
// The package has no dependencies beyond the standard library.
// Orchestration lives in the runner package, generation in the model
// package, and persistence behind the StateStore/TranscriptStore contracts
// declared here.
package core
