// Package ir provides the data model shared by every other rcmflow package.
//
// It holds the tagged entity value (Value and its seven variants), dot-path
// access, the coercions used by condition operators, and the rule, context
// and result types. ir imports nothing internal; all other internal packages
// import ir.
//
// Key design constraints:
//   - A nil Value is "undefined"; Null is an explicit null
//   - Objects iterate in RFC 8785 key order via SortedKeys
//   - All JSON tags use camelCase to match rule documents
//   - Canonical JSON (MarshalCanonical) is the only input to hashing
package ir
