// Package filesystem provides concrete implementations of the
// types.FS interface: a thin wrapper over the os package for real
// deployments, and an afero-backed variant used by tests to run the
// engine against an in-memory tree.
package filesystem
