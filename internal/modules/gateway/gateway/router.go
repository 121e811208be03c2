package gateway

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/mx-space/realtime/internal/modules/gateway/acl"
)

// route dispatches one inbound frame. Malformed and refused frames are
// logged and dropped; the connection stays open.
func (h *Hub) route(c *Conn, raw []byte) {
	msg, err := parseInbound(raw)
	if err != nil {
		c.logger.Debug("dropping malformed frame", zap.Error(err))
		h.reject(c, codeBadMessage, err.Error(), "")
		return
	}

	switch msg.Type {
	case msgTypeSubscribe:
		h.subscribe(c, msg.Payload)
	case msgTypeUnsubscribe:
		h.unsubscribe(c, msg.Payload)
	case msgTypeBroadcast:
		h.broadcast(c, msg.Payload)
	default:
		c.logger.Debug("dropping unknown frame type", zap.String("type", msg.Type))
		h.reject(c, codeUnknownType, "unknown message type", "")
	}
}

func (h *Hub) subscribe(c *Conn, raw json.RawMessage) {
	var p channelPayload
	if err := decodePayload(raw, &p); err != nil {
		c.logger.Debug("bad subscribe payload", zap.Error(err))
		h.reject(c, codeBadMessage, err.Error(), "")
		return
	}
	if !h.checkChannel(c, p.Channel) {
		return
	}
	if !h.policy.CanSubscribe(c.identity, p.Channel) {
		c.logger.Info("subscribe refused", zap.String("channel", p.Channel))
		h.reject(c, codeForbidden, "subscribe not allowed", p.Channel)
		return
	}
	if c.State() == StateClosed {
		return
	}
	if h.registry.Subscribe(c, p.Channel) {
		c.logger.Debug("subscribed", zap.String("channel", p.Channel))
	}
	// A close racing the insert may have already run cleanup.
	if c.State() == StateClosed {
		h.registry.Cleanup(c)
	}
}

func (h *Hub) unsubscribe(c *Conn, raw json.RawMessage) {
	var p channelPayload
	if err := decodePayload(raw, &p); err != nil {
		c.logger.Debug("bad unsubscribe payload", zap.Error(err))
		h.reject(c, codeBadMessage, err.Error(), "")
		return
	}
	if !h.checkChannel(c, p.Channel) {
		return
	}
	if h.registry.Unsubscribe(c, p.Channel) {
		c.logger.Debug("unsubscribed", zap.String("channel", p.Channel))
	}
}

// broadcast publishes through the broker only; local subscribers, the
// sender included, receive it on the way back.
func (h *Hub) broadcast(c *Conn, raw json.RawMessage) {
	var p broadcastPayload
	if err := decodePayload(raw, &p); err != nil {
		c.logger.Debug("bad broadcast payload", zap.Error(err))
		h.reject(c, codeBadMessage, err.Error(), "")
		return
	}
	if !h.checkChannel(c, p.Channel) {
		return
	}
	if !h.policy.CanBroadcast(c.identity, p.Channel) {
		c.logger.Info("broadcast refused", zap.String("channel", p.Channel))
		h.reject(c, codeForbidden, "broadcast not allowed", p.Channel)
		return
	}

	body, err := json.Marshal(newEnvelope(p, c.identity, h.now()))
	if err != nil {
		c.logger.Warn("encode envelope failed", zap.Error(err))
		return
	}
	if err := h.broker.Publish(context.Background(), p.Channel, body); err != nil {
		c.logger.Warn("broker publish failed", zap.String("channel", p.Channel), zap.Error(err))
		h.reject(c, codeBrokerFailed, "publish failed", p.Channel)
	}
}

// checkChannel refuses names that are not usable verbatim as a routing key.
// The name is never echoed back.
func (h *Hub) checkChannel(c *Conn, channel string) bool {
	if acl.ValidChannel(channel) {
		return true
	}
	c.logger.Info("invalid channel name", zap.Int("length", len(channel)))
	h.reject(c, codeBadMessage, "invalid channel name", "")
	return false
}

func (h *Hub) reject(c *Conn, code, message, channel string) {
	if !h.opts.ErrorFrames {
		return
	}
	body, err := json.Marshal(ErrorFrame{
		Type: msgTypeError,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
			Channel: channel,
		},
	})
	if err != nil {
		return
	}
	c.enqueue(body)
}
