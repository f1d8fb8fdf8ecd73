// Package registry maps capability names to live adapter bindings.
//
// Lookups read an immutable table published through an atomic pointer, so
// they never block on writers. Register and Deregister build a new table,
// swap it in and retire the replaced binding: retired bindings refuse new
// acquisitions and are closed once in-flight calls drain or the grace
// period expires.
package registry
