// Package transport defines the minimal Start/Stop contract main.go
// drives, grounded on the teacher's contrib/transport package (narrowed
// to a single HTTP transport: no multi-transport registry or AppContext
// lookup, since this process runs exactly one server).
package transport

import "context"

// Server is anything main.go can start and gracefully stop.
type Server interface {
	Start(context.Context) error
	Stop(context.Context) error
}
