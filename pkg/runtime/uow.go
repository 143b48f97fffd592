package runtime

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/model"
)

// UOWFunc processes one received message.
type UOWFunc func(ctx context.Context, msg *model.Msg) error

// WithUOW runs one unit of work: receive a message, process it, route a
// failure to the catch nodes of the flow and, whatever the outcome, notify
// completion exactly once. A cancelled receive returns ErrTaskCancelled
// without side effects.
func WithUOW(ctx context.Context, node *FlowNode, fn UOWFunc) error {
	msg, err := node.RecvMsg(ctx)
	if err != nil {
		return err
	}

	// fn usually hands msg downstream. Catch nodes get a copy taken up front;
	// complete nodes get the message as it first left the node, or that copy
	// when it never left through a port.
	observed := msg
	watched := node.flow.observes(node)
	if watched {
		observed = msg.Clone()
		node.beginCapture(msg.ID)
	}

	spanCtx, span := node.Engine().tracer.Start(ctx, "node.uow",
		trace.WithAttributes(
			attribute.String("node.id", node.id.String()),
			attribute.String("node.type", node.typ),
			attribute.String("node.name", node.name),
			attribute.String("flow.id", node.flow.id.String()),
			attribute.String("msg.id", msg.ID.String()),
		))

	procErr := callProtected(spanCtx, node, msg, fn)
	completed := observed
	if watched {
		if out := node.endCapture(); out != nil {
			completed = out
		}
	}
	if procErr != nil && !rwerrors.IsCancelled(procErr) {
		span.RecordError(procErr)
		span.SetStatus(codes.Error, procErr.Error())
		if !node.ReportError(spanCtx, observed, procErr) {
			nodeErr := &NodeError{NodeID: node.id, NodeType: node.typ, NodeName: node.name, Cause: procErr}
			node.logger.Error("Unhandled node error",
				zap.String("msg_id", msg.ID.String()),
				zap.Error(procErr))
			node.Engine().captureError(nodeErr, node)
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	node.NotifyUOWCompleted(ctx, completed)
	return nil
}

// RunUOWLoop repeats WithUOW until ctx is cancelled.
func RunUOWLoop(ctx context.Context, node *FlowNode, fn UOWFunc) {
	for {
		if err := WithUOW(ctx, node, fn); err != nil {
			if !rwerrors.IsCancelled(err) {
				node.logger.Error("Unit of work failed", zap.Error(err))
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// callProtected turns a panic in fn into an error so that one bad message
// does not end the node goroutine.
func callProtected(ctx context.Context, node *FlowNode, msg *model.Msg, fn UOWFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			node.logger.Error("Recovered panic while processing message",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, msg)
}
