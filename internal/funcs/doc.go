// Package funcs provides the date and aggregation helpers available to rule
// authors inside action parameter templates and to custom action handlers.
//
// All helpers that depend on the current time take it as an argument so
// callers can evaluate them against an injected clock.
package funcs
