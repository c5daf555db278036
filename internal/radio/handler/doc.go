// Package handler holds the gin route handlers for the narrow HTTP boundary
// wiring (spec §6: CLI/REST surfaces are out of scope except for the cache
// contract table, which CacheHandlers exposes directly).
package handler
