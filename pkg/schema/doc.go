// Package schema provides typed step configuration backed by CUE.
//
// A Schema is compiled from the body of a CUE struct. Defaults are written with
// CUE default markers and the struct is closed, so unknown fields are rejected:
//
//	iterations: *3 | int & >=1
//	talus:      *0.02 | number & >0
//
// Resolving a configuration starts from the schema defaults, deep-merges the
// caller's override on top and validates the merged tree against the schema.
// A Union groups named strategy variants, each with its own Schema, and
// resolves overrides of the form {strategy: <name>, config: {...}}.
package schema
