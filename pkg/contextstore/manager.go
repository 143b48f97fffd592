package contextstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/model"
)

// DefaultStoreName is the store used when a reference names none.
const DefaultStoreName = "default"

// Manager owns the named stores of one engine.
type Manager struct {
	mu          sync.RWMutex
	stores      map[string]Store
	defaultName string
	logger      *zap.Logger
	global      *Context
}

// NewManager creates a manager. When stores is empty a single memory store
// is installed under DefaultStoreName. An empty defaultName selects the store
// called "default", else the first store by name.
func NewManager(defaultName string, stores map[string]Store, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(stores) == 0 {
		stores = map[string]Store{DefaultStoreName: NewMemoryStore()}
		defaultName = DefaultStoreName
	}
	m := &Manager{stores: stores, logger: logger}
	if defaultName == "" {
		defaultName = DefaultStoreName
		if _, ok := stores[DefaultStoreName]; !ok {
			defaultName = m.names()[0]
		}
	}
	if _, ok := stores[defaultName]; !ok {
		return nil, rwerrors.BadArguments("default context store %q is not configured", defaultName)
	}
	m.defaultName = defaultName
	m.global = &Context{manager: m, scope: GlobalScope}
	return m, nil
}

// NewManagerFromConfig builds every configured store.
func NewManagerFromConfig(defaultName string, configs map[string]StoreConfig, logger *zap.Logger) (*Manager, error) {
	stores := make(map[string]Store, len(configs))
	for name, cfg := range configs {
		store, err := NewStore(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("context store %s: %w", name, err)
		}
		stores[name] = store
	}
	return NewManager(defaultName, stores, logger)
}

// Open opens every store. Stores already opened are closed again on failure.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var opened []Store
	for _, name := range m.names() {
		store := m.stores[name]
		if err := store.Open(ctx); err != nil {
			for _, s := range opened {
				_ = s.Close(ctx)
			}
			return fmt.Errorf("failed to open context store %s: %w", name, err)
		}
		opened = append(opened, store)
	}
	return nil
}

// Close closes every store and returns the first error.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var first error
	for _, name := range m.names() {
		if err := m.stores[name].Close(ctx); err != nil {
			m.logger.Warn("Failed to close context store", zap.String("store", name), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Clean drops stale scopes from every store.
func (m *Manager) Clean(ctx context.Context, activeScopes []string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, name := range m.names() {
		if err := m.stores[name].Clean(ctx, activeScopes); err != nil {
			return fmt.Errorf("failed to clean context store %s: %w", name, err)
		}
	}
	return nil
}

func (m *Manager) names() []string {
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Store resolves a store by name; "" and "default" select the default store.
func (m *Manager) Store(name string) (Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if name == "" || name == DefaultStoreName {
		name = m.defaultName
	}
	store, ok := m.stores[name]
	if !ok {
		return nil, rwerrors.NotFound("context store %q", name)
	}
	return store, nil
}

// Global returns the global context.
func (m *Manager) Global() *Context {
	return m.global
}

// NewContext creates a context for scope. parent is used for `$parent.`
// lookups and may be nil.
func (m *Manager) NewContext(scope string, parent *Context) *Context {
	return &Context{manager: m, scope: scope, parent: parent}
}

// Context is one node, flow or global context.
type Context struct {
	manager *Manager
	scope   string
	parent  *Context
}

func (c *Context) Scope() string {
	return c.scope
}

func (c *Context) Parent() *Context {
	return c.parent
}

const parentPrefix = "$parent."

// Get reads key from store. The key may be a property expression such as
// `count` or `stats.hits[0]`, and may start with `$parent.`. A miss returns
// (nil, false, nil).
func (c *Context) Get(ctx context.Context, store, key string) (any, bool, error) {
	if rest, ok := strings.CutPrefix(key, parentPrefix); ok {
		if c.parent == nil {
			return nil, false, nil
		}
		return c.parent.Get(ctx, store, rest)
	}
	segs, err := model.ParsePropex(key)
	if err != nil {
		return nil, false, err
	}
	if segs[0].IsIndex {
		return nil, false, rwerrors.BadArguments("context key must start with a name: %q", key)
	}
	s, err := c.manager.Store(store)
	if err != nil {
		return nil, false, err
	}
	root, err := s.Get(ctx, c.scope, segs[0].Key)
	if rwerrors.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(segs) == 1 {
		return root, true, nil
	}
	v, ok := model.GetBySegments(root, segs[1:])
	return v, ok, nil
}

// Set writes key into store. Setting a nil value deletes the key.
func (c *Context) Set(ctx context.Context, store, key string, value any) error {
	if rest, ok := strings.CutPrefix(key, parentPrefix); ok {
		if c.parent == nil {
			return rwerrors.InvalidOperation("context %q has no parent", c.scope)
		}
		return c.parent.Set(ctx, store, rest, value)
	}
	segs, err := model.ParsePropex(key)
	if err != nil {
		return err
	}
	if segs[0].IsIndex {
		return rwerrors.BadArguments("context key must start with a name: %q", key)
	}
	s, err := c.manager.Store(store)
	if err != nil {
		return err
	}
	top := segs[0].Key
	if len(segs) == 1 {
		if value == nil {
			return s.Delete(ctx, c.scope, top)
		}
		return s.Set(ctx, c.scope, top, value)
	}

	root, err := s.Get(ctx, c.scope, top)
	if err != nil && !rwerrors.IsNotFound(err) {
		return err
	}
	holder := map[string]any{top: root}
	if value == nil {
		if !model.DeleteBySegments(holder, segs) {
			return nil
		}
	} else if err := model.SetBySegments(holder, segs, value, true); err != nil {
		return err
	}
	return s.Set(ctx, c.scope, top, holder[top])
}

// Keys lists the top-level keys of store.
func (c *Context) Keys(ctx context.Context, store string) ([]string, error) {
	s, err := c.manager.Store(store)
	if err != nil {
		return nil, err
	}
	return s.Keys(ctx, c.scope)
}
