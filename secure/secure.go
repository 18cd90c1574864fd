// Package secure implements regions of memory for sensitive data. A Region keeps its contents encrypted in
// locked, no-access pages and only exposes plaintext for the lifetime of a Scope.
package secure

import (
	"github.com/rcrowley/go-metrics"
)

var (
	// RegionCounter is used to track the number of regions currently alive.
	RegionCounter = metrics.GetOrRegisterCounter("secure.region.inuse", nil)

	// AllocTimer is used to record the time taken to construct a region.
	AllocTimer = metrics.GetOrRegisterTimer("secure.region.alloctimer", nil)

	// ScopeTimer is used to record how long access scopes stay open.
	ScopeTimer = metrics.GetOrRegisterTimer("secure.scope.timer", nil)
)
