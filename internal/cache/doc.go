// Package cache defines the disk-backed store that maps a 3-digit status code
// to a single <CachePath>/<code>.jpeg file. Writes go through a temp file and
// an atomic rename so readers never observe partial bodies, and writes to the
// same code are serialized by a per-code lock. An optional in-memory layer
// built on go-cache can sit in front of the disk store for hot codes.
// The proxy handler depends on this package for every GET/PUT/DELETE and never
// touches the filesystem directly.
package cache
