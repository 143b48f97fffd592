package runtime

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wehubfusion/redwire/internal/xjson"
	"github.com/wehubfusion/redwire/pkg/contextstore"
	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/model"
)

// Typed property kinds used by node configurations such as `payloadType`.
const (
	PropStr     = "str"
	PropNum     = "num"
	PropBool    = "bool"
	PropJSON    = "json"
	PropDate    = "date"
	PropBin     = "bin"
	PropMsg     = "msg"
	PropFlow    = "flow"
	PropGlobal  = "global"
	PropEnv     = "env"
	PropRegex   = "re"
	PropJSONata = "jsonata"
)

// EvaluateNodeProperty resolves a typed property value as seen by node while
// processing msg, which may be nil for types that do not read the message.
func EvaluateNodeProperty(ctx context.Context, value any, typ string, node *FlowNode, msg *model.Msg) (any, error) {
	text, isString := value.(string)
	switch typ {
	case "", PropStr:
		if isString {
			return text, nil
		}
		return model.ToString(value), nil

	case PropNum:
		if !isString {
			if f, ok := model.ToFloat(value); ok {
				return f, nil
			}
			return nil, rwerrors.InvalidData("%v is not a number", value)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, rwerrors.InvalidData("%q is not a number", text)
		}
		return f, nil

	case PropBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return strings.TrimSpace(text) == "true", nil

	case PropJSON:
		if !isString {
			return model.DeepClone(value), nil
		}
		var v any
		if err := xjson.Unmarshal([]byte(text), &v); err != nil {
			return nil, rwerrors.InvalidData("invalid JSON property: %v", err)
		}
		return v, nil

	case PropDate:
		return float64(time.Now().UnixMilli()), nil

	case PropBin:
		return evaluateBinary(value)

	case PropMsg:
		if msg == nil {
			return nil, nil
		}
		v, _ := msg.GetNav(text)
		return v, nil

	case PropFlow:
		return getContextValue(ctx, node.flow.context, text)

	case PropGlobal:
		return getContextValue(ctx, node.Engine().contexts.Global(), text)

	case PropEnv:
		if strings.Contains(text, "${") {
			return node.env.Expand(text), nil
		}
		v, _ := node.GetSetting(text)
		return v, nil

	case PropRegex:
		re, err := regexp.Compile(text)
		if err != nil {
			return nil, rwerrors.InvalidData("invalid regular expression %q: %v", text, err)
		}
		return re, nil

	case PropJSONata:
		return nil, rwerrors.NewError("UNSUPPORTED", "JSONata expressions", rwerrors.ErrUnsupported)

	default:
		return nil, rwerrors.NewError("UNSUPPORTED", "property type "+typ, rwerrors.ErrUnsupported)
	}
}

// SetNodeProperty writes value to a msg, flow or global property. A nil
// value on a context target deletes the key.
func SetNodeProperty(ctx context.Context, typ, property string, value any, node *FlowNode, msg *model.Msg) error {
	switch typ {
	case PropMsg:
		return msg.SetNav(property, value, true)
	case PropFlow:
		store, key := contextstore.ParseStoreKey(property)
		return node.flow.context.Set(ctx, store, key, value)
	case PropGlobal:
		store, key := contextstore.ParseStoreKey(property)
		return node.Engine().contexts.Global().Set(ctx, store, key, value)
	default:
		return rwerrors.BadArguments("cannot write to a %q property", typ)
	}
}

// DeleteNodeProperty removes a msg, flow or global property.
func DeleteNodeProperty(ctx context.Context, typ, property string, node *FlowNode, msg *model.Msg) error {
	switch typ {
	case PropMsg:
		msg.DeleteNav(property)
		return nil
	case PropFlow, PropGlobal:
		return SetNodeProperty(ctx, typ, property, nil, node, msg)
	default:
		return rwerrors.BadArguments("cannot delete a %q property", typ)
	}
}

func getContextValue(ctx context.Context, c *contextstore.Context, property string) (any, error) {
	store, key := contextstore.ParseStoreKey(property)
	v, _, err := c.Get(ctx, store, key)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func evaluateBinary(value any) (any, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		var items []any
		if err := xjson.Unmarshal([]byte(v), &items); err != nil {
			return []byte(v), nil
		}
		return bytesFromList(items)
	case []any:
		return bytesFromList(v)
	default:
		return nil, rwerrors.InvalidData("cannot convert %T to a buffer", value)
	}
}

func bytesFromList(items []any) ([]byte, error) {
	out := make([]byte, len(items))
	for i, item := range items {
		f, ok := model.ToFloat(item)
		if !ok || f < 0 || f > 255 {
			return nil, rwerrors.InvalidData("buffer element %v is not a byte", item)
		}
		out[i] = byte(f)
	}
	return out, nil
}
