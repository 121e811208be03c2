package gateway

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/mx-space/realtime/internal/pkg/broker"
)

// Relay fans a broker delivery out to the connections subscribed to its
// routing key. The body is forwarded unmodified.
func (h *Hub) Relay(d broker.Delivery) {
	if !json.Valid(d.Body) {
		h.logger.Warn("dropping non-JSON broker message", zap.String("routing_key", d.RoutingKey))
		return
	}

	delivered := 0
	for _, c := range h.registry.SubscribersOf(d.RoutingKey) {
		// Closed connections are left for their own cleanup path.
		if c.State() != StateAlive {
			continue
		}
		if c.enqueue(d.Body) {
			delivered++
		}
	}
	h.logger.Debug("relayed", zap.String("routing_key", d.RoutingKey), zap.Int("delivered", delivered))
}
