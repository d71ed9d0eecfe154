package rendezvous

// Metrics receives counts of rendezvous protocol events. Implementations
// must tolerate concurrent calls. NewClient and NewServer accept a nil
// Metrics and simply skip instrumentation.
type Metrics interface {
	// IncRegistration records a register attempt's outcome ("ok", "rejected",
	// or "error").
	IncRegistration(result string)
	// IncDiscover records a discover request's outcome ("ok", "rejected", or
	// "error").
	IncDiscover(result string)
	// IncReconnectAttempt records a backoff retry by a client's register or
	// discover loop, labeled by which loop it came from.
	IncReconnectAttempt(loop string)
}
