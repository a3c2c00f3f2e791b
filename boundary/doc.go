// Package boundary exposes storages, items, listings and errors to callers
// that cannot hold Go values, such as a foreign function interface or an
// RPC layer.
//
// Every object is returned as an opaque Handle and stays alive until it is
// passed to Release exactly once. Fallible calls return an error Handle as
// their last result; NoHandle means success. Error handles are introspected
// with ErrorVariant, ErrorDisplay, ErrorDebug and ErrorCause.
//
// Strings are returned as Go values and need no release.
package boundary
