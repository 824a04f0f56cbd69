// Package cache defines the disk-backed partition store holding cached HTTP
// responses under StoragePath/<partition>/<path> files. Each entry pairs a
// body file with a .meta sidecar (status, headers, original key) so routing
// strategies can replay complete responses. Writes go through temp file +
// rename for atomicity, and Keys enumeration surfaces write-time ordering for
// the trimmer. Lifecycle and router layers depend on this package instead of
// touching the filesystem directly.
package cache
