package model

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/wehubfusion/redwire/internal/xjson"
	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
)

// ElementID identifies every flow, group, node and message in a running graph.
// It is rendered as 16 lowercase hex characters.
type ElementID uint64

// EmptyID is the zero id.
const EmptyID ElementID = 0

// NewElementID draws a fresh non-zero id.
func NewElementID() ElementID {
	for {
		u := uuid.New()
		id := ElementID(binary.BigEndian.Uint64(u[:8]) ^ binary.BigEndian.Uint64(u[8:]))
		if id != EmptyID {
			return id
		}
	}
}

// ParseElementID parses a hex rendered id of at most 16 characters.
func ParseElementID(s string) (ElementID, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 16 {
		return EmptyID, rwerrors.InvalidData("bad element id %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return EmptyID, rwerrors.InvalidData("bad element id %q: %v", s, err)
	}
	return ElementID(v), nil
}

// MustParseElementID is ParseElementID for constants in tests and fixtures.
func MustParseElementID(s string) ElementID {
	id, err := ParseElementID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Combine XORs two ids. It is a bijection for a fixed left operand and is used
// to derive the ids of subflow instance children.
func Combine(a, b ElementID) (ElementID, error) {
	if a == EmptyID || b == EmptyID {
		return EmptyID, rwerrors.BadArguments("cannot combine empty element ids")
	}
	return a ^ b, nil
}

func (id ElementID) IsEmpty() bool {
	return id == EmptyID
}

func (id ElementID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

func (id ElementID) MarshalJSON() ([]byte, error) {
	return xjson.Marshal(id.String())
}

func (id *ElementID) UnmarshalJSON(data []byte) error {
	var s string
	if err := xjson.Unmarshal(data, &s); err != nil {
		return rwerrors.InvalidData("element id must be a string: %v", err)
	}
	if s == "" {
		*id = EmptyID
		return nil
	}
	v, err := ParseElementID(s)
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (id ElementID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ElementID) UnmarshalText(text []byte) error {
	v, err := ParseElementID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// ParseElementIDValue accepts a decoded JSON value (string) and returns the id.
func ParseElementIDValue(v any) (ElementID, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return EmptyID, false
	}
	id, err := ParseElementID(s)
	if err != nil {
		return EmptyID, false
	}
	return id, true
}
