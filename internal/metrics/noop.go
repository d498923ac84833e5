package metrics

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncUserCreated()    {}
func (n *NoopRecorder) IncUserUpdated()    {}
func (n *NoopRecorder) IncUserDeleted()    {}
func (n *NoopRecorder) IncDuplicateEmail() {}
func (n *NoopRecorder) IncUserCacheHit()   {}
func (n *NoopRecorder) IncUserCacheMiss()  {}
