package model

import (
	"time"

	"github.com/wehubfusion/redwire/internal/xjson"
	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
)

const (
	// MsgIDProperty and LinkSourceProperty are the reserved keys used when a
	// message is rendered as a plain object.
	MsgIDProperty      = "_msgid"
	LinkSourceProperty = "_linkSource"
)

// LinkCallFrame is pushed by a link call node and popped by a return-mode link out.
type LinkCallFrame struct {
	EventID        ElementID `json:"id"`
	FlowID         ElementID `json:"flow"`
	LinkCallNodeID ElementID `json:"node"`
}

// Msg is the record carried along wires. A *Msg has exactly one owner at a time:
// fan-out hands the original to the first wire and clones to the others.
type Msg struct {
	ID            ElementID
	BirthPlace    ElementID
	Body          map[string]any
	LinkCallStack []LinkCallFrame
}

// Envelope is a single fan-out delivery unit.
type Envelope struct {
	Port int
	Msg  *Msg
}

// NewMsg creates a message with a null payload.
func NewMsg(birthPlace ElementID) *Msg {
	return NewMsgWithBody(birthPlace, map[string]any{"payload": nil})
}

// NewMsgWithPayload creates a message holding payload.
func NewMsgWithPayload(birthPlace ElementID, payload any) *Msg {
	return NewMsgWithBody(birthPlace, map[string]any{"payload": payload})
}

// NewMsgWithBody creates a message that takes ownership of body.
func NewMsgWithBody(birthPlace ElementID, body map[string]any) *Msg {
	if body == nil {
		body = make(map[string]any)
	}
	m := &Msg{
		ID:         NewElementID(),
		BirthPlace: birthPlace,
		Body:       body,
	}
	m.absorbReserved()
	return m
}

// absorbReserved moves `_msgid` and `_linkSource` out of the body.
func (m *Msg) absorbReserved() {
	if raw, ok := m.Body[MsgIDProperty]; ok {
		if id, ok := ParseElementIDValue(raw); ok {
			m.ID = id
		}
		delete(m.Body, MsgIDProperty)
	}
	if raw, ok := m.Body[LinkSourceProperty]; ok {
		var frames []LinkCallFrame
		if err := xjson.Convert(raw, &frames); err == nil {
			m.LinkCallStack = frames
		}
		delete(m.Body, LinkSourceProperty)
	}
}

// Clone returns a deep, independent copy that keeps the message id.
func (m *Msg) Clone() *Msg {
	c := &Msg{
		ID:         m.ID,
		BirthPlace: m.BirthPlace,
		Body:       DeepCloneMap(m.Body),
	}
	if len(m.LinkCallStack) > 0 {
		c.LinkCallStack = append([]LinkCallFrame(nil), m.LinkCallStack...)
	}
	return c
}

func (m *Msg) Get(key string) (any, bool) {
	v, ok := m.Body[key]
	return v, ok
}

func (m *Msg) Set(key string, value any) {
	m.Body[key] = value
}

func (m *Msg) Contains(key string) bool {
	_, ok := m.Body[key]
	return ok
}

func (m *Msg) Remove(key string) (any, bool) {
	v, ok := m.Body[key]
	if ok {
		delete(m.Body, key)
	}
	return v, ok
}

// Payload returns msg.payload, or nil when absent.
func (m *Msg) Payload() any {
	return m.Body["payload"]
}

// GetNav resolves a property expression, with or without a leading `msg.`.
func (m *Msg) GetNav(expr string) (any, bool) {
	expr = TrimMsgPrefix(expr)
	if expr == MsgIDProperty {
		return m.ID.String(), true
	}
	segs, err := ParsePropex(expr)
	if err != nil || segs[0].IsIndex {
		return nil, false
	}
	return GetBySegments(m.Body, segs)
}

// SetNav assigns a property expression, with or without a leading `msg.`.
func (m *Msg) SetNav(expr string, value any, createMissing bool) error {
	expr = TrimMsgPrefix(expr)
	segs, err := ParsePropex(expr)
	if err != nil {
		return err
	}
	if segs[0].IsIndex {
		return rwerrors.BadArguments("the first property must be a string")
	}
	return SetBySegments(m.Body, segs, value, createMissing)
}

// DeleteNav removes a property expression. It reports whether something was removed.
func (m *Msg) DeleteNav(expr string) bool {
	segs, err := ParsePropex(TrimMsgPrefix(expr))
	if err != nil {
		return false
	}
	return DeleteBySegments(m.Body, segs)
}

func (m *Msg) PushLinkFrame(frame LinkCallFrame) {
	m.LinkCallStack = append(m.LinkCallStack, frame)
}

// PopLinkFrame removes and returns the top call frame.
func (m *Msg) PopLinkFrame() (LinkCallFrame, bool) {
	n := len(m.LinkCallStack)
	if n == 0 {
		return LinkCallFrame{}, false
	}
	top := m.LinkCallStack[n-1]
	m.LinkCallStack = m.LinkCallStack[:n-1]
	return top, true
}

// ToMap renders the message as a plain object including the reserved keys.
// The body values are shared, not copied.
func (m *Msg) ToMap() map[string]any {
	out := make(map[string]any, len(m.Body)+2)
	for k, v := range m.Body {
		out[k] = v
	}
	out[MsgIDProperty] = m.ID.String()
	if len(m.LinkCallStack) > 0 {
		frames := make([]any, 0, len(m.LinkCallStack))
		for _, f := range m.LinkCallStack {
			frames = append(frames, map[string]any{
				"id":   f.EventID.String(),
				"flow": f.FlowID.String(),
				"node": f.LinkCallNodeID.String(),
			})
		}
		out[LinkSourceProperty] = frames
	}
	return out
}

// MsgFromMap builds a message from a plain object such as one returned by a
// script. Reserved keys are parsed back into the message fields.
func MsgFromMap(birthPlace ElementID, obj map[string]any) *Msg {
	return NewMsgWithBody(birthPlace, obj)
}

func (m *Msg) MarshalJSON() ([]byte, error) {
	return xjson.Marshal(m.ToMap())
}

func (m *Msg) UnmarshalJSON(data []byte) error {
	body := make(map[string]any)
	if err := xjson.Unmarshal(data, &body); err != nil {
		return rwerrors.InvalidData("message must be a JSON object: %v", err)
	}
	*m = Msg{ID: NewElementID(), Body: body}
	m.absorbReserved()
	return nil
}

// DeepCloneMap copies a JSON-like object recursively.
func DeepCloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = DeepClone(v)
	}
	return dst
}

// DeepClone copies JSON-like values recursively. Scalars are returned as is.
func DeepClone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return DeepCloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = DeepClone(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = DeepCloneMap(e)
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	case []string:
		return append([]string(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	case time.Time:
		return t
	default:
		return v
	}
}
