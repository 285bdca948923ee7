package core

import (
	"encoding/json"
	"log/slog"
)

// ViewSink receives page-level notifications: message-for-view payloads and
// the synthetic client-status-changed event.
type ViewSink interface {
	DispatchMessage(data json.RawMessage)
}

// ViewSinkFunc adapts a function to ViewSink.
type ViewSinkFunc func(data json.RawMessage)

func (f ViewSinkFunc) DispatchMessage(data json.RawMessage) { f(data) }

// Router dispatches decoded inbound packets. It performs no I/O beyond
// invoking the view sink and worker subscribers.
type Router struct {
	view       ViewSink
	registry   *Registry
	suppressor *ErrorSuppressor
	metrics    *Metrics
	logger     *slog.Logger
}

func NewRouter(view ViewSink, registry *Registry, suppressor *ErrorSuppressor, metrics *Metrics, log *slog.Logger) *Router {
	return &Router{
		view:       view,
		registry:   registry,
		suppressor: suppressor,
		metrics:    metrics,
		logger:     log,
	}
}

func (r *Router) Route(p Packet) {
	switch p.Kind {
	case KindMessageForView:
		r.dispatchView(payloadOrNull(p.Payload))
	case KindWorkerMessageForView:
		workerID, ok := p.WorkerIDString()
		if !ok {
			return
		}
		r.emitWorkerMessage(workerID, payloadOrNull(p.Payload))
	case KindBridgeError:
		r.logger.Warn("Bridge error reported by host", "message", p.ErrorMessage())
	default:
		// unknown kinds are ignored for forward compatibility
	}
}

func (r *Router) dispatchView(data json.RawMessage) {
	if r.view == nil {
		return
	}
	if err := r.suppressor.Recover(func() { r.view.DispatchMessage(data) }); err != nil {
		r.logger.Warn("View message handler failed", "error", err)
	}
}

// emitWorkerMessage isolates each subscriber. Every failure is logged and
// counted; suppression applies only to the view sink.
func (r *Router) emitWorkerMessage(workerID string, payload json.RawMessage) {
	subscribers := r.registry.Subscribers(workerID)
	for _, cb := range subscribers {
		if err := recoverCallback(func() { cb(payload) }); err != nil {
			r.metrics.subscriberFailed()
			r.logger.Warn("Worker subscription handler failed",
				"worker_id", workerID,
				"error", err)
		}
	}
}

func payloadOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
