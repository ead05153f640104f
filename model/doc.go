// Package model defines the generation contract consumed by agents: a
// blocking Generate call with an optional per-token callback and a
// distinguished timeout error class. Provider adapters live in the openai
// and anthropic subpackages; MockModel serves tests and examples.
package model
