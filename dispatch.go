package replica

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-replica/pkg/message"
	"go.opentelemetry.io/otel/attribute"
)

// RegisterMessageHandler routes addressed messages of kind to handler,
// replacing any previous handler. A nil handler unregisters the kind.
// stateUpdate is always handled by the replica itself.
func (r *Replica) RegisterMessageHandler(kind message.Kind, handler message.Handler) {
	if handler == nil {
		r.UnregisterMessageHandler(kind)
		return
	}
	if kind == message.KindStateUpdate {
		r.logger.Warn("replica handler for stateUpdate is never invoked", "kind", string(kind))
	}
	r.handlersMu.Lock()
	r.handlers[kind] = handler
	r.handlersMu.Unlock()
	r.logger.Debug("replica handler registered", "kind", string(kind))
}

// UnregisterMessageHandler removes the handler for kind.
func (r *Replica) UnregisterMessageHandler(kind message.Kind) {
	r.handlersMu.Lock()
	delete(r.handlers, kind)
	r.handlersMu.Unlock()
	r.logger.Debug("replica handler unregistered", "kind", string(kind))
}

func (r *Replica) handler(kind message.Kind) message.Handler {
	r.handlersMu.RLock()
	defer r.handlersMu.RUnlock()
	return r.handlers[kind]
}

// Dispatch is the replica's single inbound handler.
//
// A stateUpdate is applied locally without rebroadcast whoever it is
// addressed to; only the addressee answers it. Every other kind reaches the
// registered handler only when addressed to this role, otherwise the
// response is suppressed with message.ErrNotIntendedRecipient. Handler
// failures and panics become failure responses, never errors.
func (r *Replica) Dispatch(ctx context.Context, msg message.Message, sender message.Sender) (resp message.Response, err error) {
	ctx, span := r.startSpan(ctx, "replica.Dispatch",
		kindAttr(msg.Kind),
		attribute.String("message.sent_from", string(msg.SentFrom)),
		attribute.String("message.sent_to", string(msg.SentTo)),
	)
	defer func() {
		if errors.Is(err, message.ErrNotIntendedRecipient) {
			span.SetAttributes(attribute.Bool("message.suppressed", true))
			endSpan(span, nil)
			return
		}
		endSpan(span, err)
	}()

	addressed := msg.AddressedTo(r.role)
	if msg.Kind == message.KindStateUpdate {
		return r.dispatchStateUpdate(ctx, msg, addressed)
	}
	if !addressed {
		r.metrics.recordDispatch(msg.Kind, "ignored")
		return message.Response{}, message.ErrNotIntendedRecipient
	}

	handler := r.handler(msg.Kind)
	if handler == nil {
		r.metrics.recordDispatch(msg.Kind, "unhandled")
		r.logger.Warn("replica has no handler", "kind", string(msg.Kind), "from", string(msg.SentFrom))
		return message.Response{Success: false, Error: message.NoHandlerError}, nil
	}

	resp, err = r.invoke(ctx, handler, msg, sender)
	if errors.Is(err, message.ErrNotIntendedRecipient) {
		r.metrics.recordDispatch(msg.Kind, "ignored")
		return message.Response{}, err
	}
	var handlerErr *HandlerError
	if errors.As(err, &handlerErr) {
		r.metrics.recordDispatch(msg.Kind, "error")
		r.logger.Error("replica handler failed", "kind", string(msg.Kind), "error", handlerErr)
		return message.Fail(handlerErr.Err), nil
	}
	r.metrics.recordDispatch(msg.Kind, "ok")
	return resp, nil
}

func (r *Replica) dispatchStateUpdate(ctx context.Context, msg message.Message, addressed bool) (message.Response, error) {
	payload, err := message.Decode(msg)
	if err != nil {
		r.metrics.recordDispatch(msg.Kind, "error")
		r.logger.Warn("replica received malformed stateUpdate", "from", string(msg.SentFrom), "error", err)
		if !addressed {
			return message.Response{}, message.ErrNotIntendedRecipient
		}
		return message.Fail(err), nil
	}
	update, _ := payload.(message.StateUpdate)

	applied, applyErr := r.applyRemote(ctx, update, msg.SentFrom)
	if !addressed {
		r.metrics.recordDispatch(msg.Kind, "ignored")
		return message.Response{}, message.ErrNotIntendedRecipient
	}
	if applyErr != nil {
		r.metrics.recordDispatch(msg.Kind, "error")
		return message.Fail(applyErr), nil
	}
	if !applied {
		r.metrics.recordDispatch(msg.Kind, "stale")
		return r.staleResponse()
	}
	r.metrics.recordDispatch(msg.Kind, "ok")
	return message.OK(message.StateUpdatedText), nil
}

// staleResponse rejects an older stateUpdate and hands the sender the
// snapshot it lost against, so it can rebase its change and resend.
func (r *Replica) staleResponse() (message.Response, error) {
	stamp := r.Version()
	resp, err := message.Response{Error: message.StaleStateError}.WithData(message.StateUpdate{
		Snapshot: r.container.State(),
		Version:  stamp.Version,
		Origin:   stamp.Origin,
	})
	if err != nil {
		return message.Fail(err), nil
	}
	return resp, nil
}

func (r *Replica) invoke(ctx context.Context, handler message.Handler, msg message.Message, sender message.Sender) (resp message.Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = message.Response{}
			err = &HandlerError{
				Role:  r.role,
				Kind:  msg.Kind,
				Err:   fmt.Errorf("panic: %v", rec),
				Panic: rec,
			}
		}
	}()
	resp, err = handler(ctx, msg, sender)
	if err != nil && !errors.Is(err, message.ErrNotIntendedRecipient) {
		return message.Response{}, &HandlerError{Role: r.role, Kind: msg.Kind, Err: err}
	}
	return resp, err
}
