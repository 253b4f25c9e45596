package service

// Registry is the connection-registry surface the coordination services
// need: reachability checks and single-target event emission. *ws.Hub
// implements it.
type Registry interface {
	// Emit sends one event to identity, returning false when the identity
	// is unreachable or the write failed.
	Emit(identity string, eventType string, payload any) bool
	Reachable(identity string) bool
}
