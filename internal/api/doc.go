// Package api serves the cache daemon's HTTP API.
//
// The API is the daemon's administration and injection surface:
//
//	GET    /api/v1/health
//	GET    /api/v1/devices                 resolvable device names
//	GET    /api/v1/devices/lookup?name=    one device record
//	GET    /api/v1/classes                 vendor/class prefixes
//	GET    /api/v1/errors                  error ledger
//	DELETE /api/v1/errors
//	POST   /api/v1/refresh
//	POST   /api/v1/inject                  {"spec": <OCI spec>, "devices": [...]}
//	GET    /api/v1/specs                   stored spec documents (store enabled)
//	PUT    /api/v1/specs/{name}
//	DELETE /api/v1/specs/{name}
//
// Device names contain '/' and '=', so single-device lookups take the name
// as a query parameter rather than a path segment.
//
// Injection mutates only the spec carried in the request; the edited spec
// is returned in the response together with the injected names and the
// per-device errors, mirroring the cache's partial-success semantics.
package api
