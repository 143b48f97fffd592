package runtime

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/wehubfusion/redwire/internal/xjson"
	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/flowsjson"
)

// Well known setting names.
const (
	EnvFlowID    = "NR_FLOW_ID"
	EnvFlowName  = "NR_FLOW_NAME"
	EnvGroupID   = "NR_GROUP_ID"
	EnvGroupName = "NR_GROUP_NAME"
	EnvNodeID    = "NR_NODE_ID"
	EnvNodeName  = "NR_NODE_NAME"
	EnvNodePath  = "NR_NODE_PATH"

	EnvSubflowID   = "NR_SUBFLOW_ID"
	EnvSubflowName = "NR_SUBFLOW_NAME"
	EnvSubflowPath = "NR_SUBFLOW_PATH"
)

// EnvStore is one level of the environment hierarchy: engine (process
// environment), flow, subflow instance and group.
type EnvStore struct {
	parent *EnvStore
	lookup func(string) (string, bool)

	mu     sync.RWMutex
	values map[string]any
}

// NewEnvStore creates a store chained to parent, which may be nil.
func NewEnvStore(parent *EnvStore) *EnvStore {
	return &EnvStore{parent: parent, values: make(map[string]any)}
}

// NewProcessEnvStore creates the root store backed by the process environment.
func NewProcessEnvStore() *EnvStore {
	s := NewEnvStore(nil)
	s.lookup = os.LookupEnv
	return s
}

func (s *EnvStore) Parent() *EnvStore {
	return s.parent
}

// Get resolves name on this level, then on its ancestors.
func (s *EnvStore) Get(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.getLocal(name); ok {
			return v, true
		}
	}
	return nil, false
}

func (s *EnvStore) getLocal(name string) (any, bool) {
	s.mu.RLock()
	v, ok := s.values[name]
	s.mu.RUnlock()
	if ok {
		return v, true
	}
	if s.lookup != nil {
		if sv, ok := s.lookup(name); ok {
			return sv, true
		}
	}
	return nil, false
}

func (s *EnvStore) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// LoadEntries evaluates env entries in order. Later entries see earlier ones.
func (s *EnvStore) LoadEntries(entries []flowsjson.EnvEntry) error {
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		v, err := s.evaluateEntry(e)
		if err != nil {
			return rwerrors.BadFlowsJSON("env %q: %v", e.Name, err)
		}
		s.Set(e.Name, v)
	}
	return nil
}

func (s *EnvStore) evaluateEntry(e flowsjson.EnvEntry) (any, error) {
	raw, isString := e.Value.(string)
	switch e.Type {
	case "", "str":
		if isString {
			return s.Expand(raw), nil
		}
		return e.Value, nil
	case "num":
		if !isString {
			return e.Value, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s.Expand(raw)), 64)
		if err != nil {
			return nil, rwerrors.InvalidData("%q is not a number", raw)
		}
		return f, nil
	case "bool":
		if b, ok := e.Value.(bool); ok {
			return b, nil
		}
		return raw == "true", nil
	case "json":
		if !isString {
			return e.Value, nil
		}
		var v any
		if err := xjson.Unmarshal([]byte(raw), &v); err != nil {
			return nil, rwerrors.InvalidData("invalid JSON: %v", err)
		}
		return v, nil
	case "env":
		if s.parent == nil {
			return nil, nil
		}
		v, _ := s.parent.Get(raw)
		return v, nil
	case "cred":
		return e.Value, nil
	default:
		return nil, rwerrors.NewError("UNSUPPORTED", "env entry type "+e.Type, rwerrors.ErrUnsupported)
	}
}

var envRefPattern = regexp.MustCompile(`\$\{\s*([^}\s]+)\s*\}`)

// Expand substitutes `${NAME}` references. Unknown names expand to "".
func (s *EnvStore) Expand(text string) string {
	if !strings.Contains(text, "${") {
		return text
	}
	return envRefPattern.ReplaceAllStringFunc(text, func(ref string) string {
		name := envRefPattern.FindStringSubmatch(ref)[1]
		v, ok := s.Get(name)
		if !ok || v == nil {
			return ""
		}
		if str, ok := v.(string); ok {
			return str
		}
		data, err := xjson.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	})
}
