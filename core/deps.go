package core

import (
	"time"

	"pkt.systems/pslog"
)

// ServiceDeps captures optional dependencies for the core service.
type ServiceDeps struct {
	Store     Store
	EventSink EventSink
	Logger    pslog.Logger
	// Now overrides the clock used for claim timestamps and staleness.
	Now func() time.Time
}
