// Package prompts contains the LLM prompt templates used by the discovery
// engine.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation, benefit from compile-time embedding,
// and can be validated by tests. User-facing configuration lives in foyer.yaml;
// this package holds the instructions sent to models for internal operations
// (utterance classification, reply phrasing) plus the deterministic scripted
// lines used when no model is reachable.
//
// Convention: each prompt category gets its own file (classify.go, reply.go)
// with an exported function that accepts the dynamic parts and returns the
// fully interpolated prompt string.
package prompts
