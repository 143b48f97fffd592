package model

import (
	"strconv"
	"strings"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
)

// Segment is one step of a property expression such as `payload.items[0]["name"]`.
// Exactly one of Key or Index is meaningful, selected by IsIndex.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s Segment) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return "." + s.Key
}

// ParsePropex parses a Node-RED property expression into segments.
func ParsePropex(expr string) ([]Segment, error) {
	p := propexParser{src: strings.TrimSpace(expr)}
	if p.src == "" {
		return nil, rwerrors.BadArguments("empty property expression")
	}
	segs := make([]Segment, 0, 4)
	first := true
	for !p.eof() {
		switch c := p.peek(); {
		case c == '[':
			seg, err := p.index()
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
		case c == '.':
			if first {
				return nil, p.fail("leading '.'")
			}
			p.pos++
			key, err := p.ident()
			if err != nil {
				return nil, err
			}
			segs = append(segs, Segment{Key: key})
		default:
			if !first {
				return nil, p.fail("expected '.' or '['")
			}
			key, err := p.ident()
			if err != nil {
				return nil, err
			}
			segs = append(segs, Segment{Key: key})
		}
		first = false
	}
	return segs, nil
}

type propexParser struct {
	src string
	pos int
}

func (p *propexParser) eof() bool  { return p.pos >= len(p.src) }
func (p *propexParser) peek() byte { return p.src[p.pos] }

func (p *propexParser) fail(reason string) error {
	return rwerrors.BadArguments("invalid property expression %q at %d: %s", p.src, p.pos, reason)
}

func (p *propexParser) skipSpaces() {
	for !p.eof() && (p.peek() == ' ' || p.peek() == '\t') {
		p.pos++
	}
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c == '_' || c == '$':
		return true
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	case c >= 0x80:
		return true
	}
	return false
}

func (p *propexParser) ident() (string, error) {
	start := p.pos
	for !p.eof() && isIdentByte(p.peek(), p.pos == start) {
		p.pos++
	}
	if start == p.pos {
		return "", p.fail("expected identifier")
	}
	return p.src[start:p.pos], nil
}

func (p *propexParser) index() (Segment, error) {
	p.pos++ // '['
	p.skipSpaces()
	if p.eof() {
		return Segment{}, p.fail("unterminated '['")
	}
	var seg Segment
	switch c := p.peek(); {
	case c == '"' || c == '\'':
		key, err := p.quoted(c)
		if err != nil {
			return Segment{}, err
		}
		seg = Segment{Key: key}
	case c >= '0' && c <= '9':
		start := p.pos
		for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
			p.pos++
		}
		n, err := strconv.Atoi(p.src[start:p.pos])
		if err != nil {
			return Segment{}, p.fail("bad index")
		}
		seg = Segment{Index: n, IsIndex: true}
	default:
		return Segment{}, p.fail("expected index or quoted key")
	}
	p.skipSpaces()
	if p.eof() || p.peek() != ']' {
		return Segment{}, p.fail("expected ']'")
	}
	p.pos++
	return seg, nil
}

func (p *propexParser) quoted(q byte) (string, error) {
	p.pos++
	var sb strings.Builder
	for !p.eof() {
		c := p.peek()
		switch {
		case c == '\\' && p.pos+1 < len(p.src):
			p.pos++
			switch e := p.peek(); e {
			case 'n':
				sb.WriteByte('\n')
			default:
				sb.WriteByte(e)
			}
			p.pos++
		case c == q:
			p.pos++
			return sb.String(), nil
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return "", p.fail("unterminated string")
}

// GetBySegments walks a decoded JSON-like value.
func GetBySegments(root any, segs []Segment) (any, bool) {
	cur := root
	for _, seg := range segs {
		switch v := cur.(type) {
		case map[string]any:
			if seg.IsIndex {
				next, ok := v[strconv.Itoa(seg.Index)]
				if !ok {
					return nil, false
				}
				cur = next
				continue
			}
			next, ok := v[seg.Key]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			if !seg.IsIndex || seg.Index < 0 || seg.Index >= len(v) {
				return nil, false
			}
			cur = v[seg.Index]
		default:
			return nil, false
		}
	}
	return cur, true
}

// SetBySegments assigns value at the path below root, which must be a map.
// Intermediate containers are created when createMissing is set. Arrays are
// grown to fit an index when the parent is reachable.
func SetBySegments(root map[string]any, segs []Segment, value any, createMissing bool) error {
	if len(segs) == 0 {
		return rwerrors.BadArguments("empty property path")
	}
	if segs[0].IsIndex {
		return rwerrors.BadArguments("the first property must be a string")
	}
	_, err := setInto(root, segs, value, createMissing)
	return err
}

// setInto returns the (possibly re-allocated) container so that slices grown by
// append are written back into their parent.
func setInto(container any, segs []Segment, value any, createMissing bool) (any, error) {
	seg := segs[0]
	last := len(segs) == 1
	switch c := container.(type) {
	case map[string]any:
		key := seg.Key
		if seg.IsIndex {
			key = strconv.Itoa(seg.Index)
		}
		if last {
			c[key] = value
			return c, nil
		}
		child, ok := c[key]
		if !ok || child == nil {
			if !createMissing {
				return nil, rwerrors.BadArguments("property %q does not exist", key)
			}
			child = newContainerFor(segs[1])
		}
		updated, err := setInto(child, segs[1:], value, createMissing)
		if err != nil {
			return nil, err
		}
		c[key] = updated
		return c, nil
	case []any:
		if !seg.IsIndex {
			return nil, rwerrors.BadArguments("cannot use key %q on an array", seg.Key)
		}
		if seg.Index >= len(c) {
			if !createMissing {
				return nil, rwerrors.BadArguments("index %d out of range", seg.Index)
			}
			grown := make([]any, seg.Index+1)
			copy(grown, c)
			c = grown
		}
		if last {
			c[seg.Index] = value
			return c, nil
		}
		child := c[seg.Index]
		if child == nil {
			if !createMissing {
				return nil, rwerrors.BadArguments("index %d is empty", seg.Index)
			}
			child = newContainerFor(segs[1])
		}
		updated, err := setInto(child, segs[1:], value, createMissing)
		if err != nil {
			return nil, err
		}
		c[seg.Index] = updated
		return c, nil
	default:
		return nil, rwerrors.BadArguments("cannot set %s on a scalar value", seg)
	}
}

func newContainerFor(next Segment) any {
	if next.IsIndex {
		return make([]any, 0, next.Index+1)
	}
	return make(map[string]any)
}

// DeleteBySegments removes the value at the path. Missing paths are a no-op.
func DeleteBySegments(root map[string]any, segs []Segment) bool {
	if len(segs) == 0 {
		return false
	}
	parent, ok := GetBySegments(root, segs[:len(segs)-1])
	if !ok {
		return false
	}
	lastSeg := segs[len(segs)-1]
	switch p := parent.(type) {
	case map[string]any:
		key := lastSeg.Key
		if lastSeg.IsIndex {
			key = strconv.Itoa(lastSeg.Index)
		}
		if _, exists := p[key]; !exists {
			return false
		}
		delete(p, key)
		return true
	case []any:
		if !lastSeg.IsIndex || lastSeg.Index >= len(p) {
			return false
		}
		p[lastSeg.Index] = nil
		return true
	}
	return false
}

// TrimMsgPrefix strips a leading `msg.` from an expression.
func TrimMsgPrefix(expr string) string {
	expr = strings.TrimSpace(expr)
	return strings.TrimPrefix(expr, "msg.")
}
