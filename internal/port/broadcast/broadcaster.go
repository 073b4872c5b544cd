// Package broadcast defines the port for pushing live events, such as
// provider lifecycle changes and search activity, to connected clients.
package broadcast

import "context"

// Broadcaster fans a typed event out to every connected client. Delivery
// is best effort; slow clients never block the caller.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
