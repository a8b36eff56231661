// Package handlers holds the thin Gin handlers over the Transaction Engine.
// The REST surface itself is explicitly out of scope for the core; these
// handlers exist only so the core is runnable end-to-end.
package handlers

import "github.com/coreledger/txcore/internal/domain/engine"

// Dependencies breaks the import cycle between handlers and the container:
// handlers depend on this narrow interface, not on the concrete Container.
type Dependencies interface {
	GetEngine() *engine.Engine
}
