// Package executor runs fired tasks through the generate-format-deliver
// pipeline with retry, fallback and one-time consumption semantics.
package executor
