// Package specstore is a SQLite-backed spec source for the device cache.
//
// Documents are written through WriteSpec (the HTTP API's PUT
// /api/v1/specs/{name}) and read back by the cache on every refresh via the
// cdi.Source interface. The store holds input documents only; it never
// persists cache state.
package specstore
