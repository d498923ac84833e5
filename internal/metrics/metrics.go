// Package metrics provides lightweight hooks for instrumentation.
package metrics

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// User lifecycle
	IncUserCreated()
	IncUserUpdated()
	IncUserDeleted()

	// Business rule rejections
	IncDuplicateEmail()

	// Public-view cache
	IncUserCacheHit()
	IncUserCacheMiss()
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
