package runtime

import (
	"context"

	"go.uber.org/zap"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/model"
)

// subflowState holds the boundary of a subflow instantiation.
type subflowState struct {
	instanceID model.ElementID
	instance   Node

	// inputs are the inbound channels fed by the subflow input port, in
	// declaration order. A wire from the input straight to an output port
	// shows up here as that port's forwarding channel.
	inputs   []chan<- *model.Msg
	outPorts []*subflowOutPort
}

// subflowOutPort collects what internal nodes send to one subflow output.
type subflowOutPort struct {
	index int
	ch    chan *model.Msg
}

// forward relays everything arriving on port out of the instance node.
func (s *subflowState) forward(ctx context.Context, f *Flow, port *subflowOutPort) {
	instance := s.instance.Base()
	for {
		var msg *model.Msg
		select {
		case msg = <-port.ch:
		case <-ctx.Done():
			return
		}
		err := instance.FanOutOne(ctx, model.Envelope{Port: port.index, Msg: msg})
		if err == nil {
			continue
		}
		if rwerrors.IsCancelled(err) {
			return
		}
		f.logger.Error("Failed to forward subflow output",
			zap.Int("port", port.index),
			zap.String("msg_id", msg.ID.String()),
			zap.Error(err))
	}
}
