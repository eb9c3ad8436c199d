// Package heuristic defines the shared domain types for reflexd: events,
// heuristics, fires, confidence signals and routing decisions.
//
// A heuristic is a learned condition→action rule carrying an embedding of
// its condition and a Beta-distribution confidence. Events are matched
// against heuristic conditions by cosine similarity; candidates are ranked
// by similarity × confidence. Fires record each use of a heuristic, and
// signals feed the Bayesian confidence update loop.
package heuristic
