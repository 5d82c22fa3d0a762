package message

import (
	"context"

	"github.com/rs/zerolog/log"

	"garage-control/internal/metrics"
)

// Router dispatches on Message.Type through a fixed handler table. Known
// types without a handler are acknowledged with {"status":"ok"}.
type Router struct {
	node     string
	handlers map[Type]HandlerFunc
}

// NewRouter builds a router for node. Handlers for types outside the
// enumeration are rejected at construction.
func NewRouter(node string, handlers map[Type]HandlerFunc) *Router {
	for t := range handlers {
		if !t.Valid() {
			panic("message: handler registered for unknown type " + string(t))
		}
	}
	return &Router{node: node, handlers: handlers}
}

// Handle satisfies HandlerFunc.
func (r *Router) Handle(ctx context.Context, m *Message) *Message {
	h, ok := r.handlers[m.Type]
	if !ok {
		if !m.Type.Valid() {
			log.Warn().Str("node", r.node).Str("tipo", string(m.Type)).Msg("unknown message type")
		}
		metrics.RecordMessage(r.node, string(m.Type), true)
		return Ack()
	}
	reply := h(ctx, m)
	metrics.RecordMessage(r.node, string(m.Type), reply == nil || reply.Status != StatusError)
	return reply
}
