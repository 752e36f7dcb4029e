package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	dmerrors "github.com/wehubfusion/datamanager/pkg/errors"
	"github.com/wehubfusion/datamanager/pkg/mapper"
	"github.com/wehubfusion/datamanager/pkg/process"
)

// DefaultFactoryID names the factory every manager starts with.
const DefaultFactoryID = "default"

// Manager is a set of named factories. It always holds the default factory
// and creates other factories on first use.
type Manager struct {
	factories map[string]*Factory
	logger    *zap.Logger
	mu        sync.Mutex
}

// NewManager creates a manager holding only the default factory.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		factories: make(map[string]*Factory),
		logger:    logger,
	}
	m.factories[DefaultFactoryID] = NewFactory(DefaultFactoryID, logger)
	return m
}

// Default returns the default factory.
func (m *Manager) Default() *Factory {
	return m.Factory("")
}

// Factory returns the factory named id, creating it when unknown. An empty
// id selects the default factory.
func (m *Manager) Factory(id string) *Factory {
	if id == "" {
		id = DefaultFactoryID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.factories[id]
	if !ok {
		f = NewFactory(id, m.logger)
		m.factories[id] = f
		m.logger.Debug("Factory created", zap.String("factory", id))
	}
	return f
}

// Lookup returns the factory named id without creating it. An empty id
// selects the default factory.
func (m *Manager) Lookup(id string) (*Factory, bool) {
	if id == "" {
		id = DefaultFactoryID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.factories[id]
	return f, ok
}

// Factories returns the factory identifiers in lexical order.
func (m *Manager) Factories() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.factories))
	for id := range m.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Register stores p in the default factory.
func (m *Manager) Register(p *process.Process) error {
	return m.Default().Register(p)
}

// Process returns an instance of process id from the default factory.
func (m *Manager) Process(id string) (*process.Process, error) {
	return m.Default().Process(id)
}

// ProcessFrom returns an instance of process id from factory factoryID.
// Unlike Factory it never creates the factory, so identifiers coming from
// requests cannot grow the registry.
func (m *Manager) ProcessFrom(factoryID, id string) (*process.Process, error) {
	f, ok := m.Lookup(factoryID)
	if !ok {
		return nil, dmerrors.Registry(fmt.Sprintf("factory %s", factoryID), dmerrors.ErrFactoryNotFound)
	}
	return f.Process(id)
}

// Mapper creates a mapper sharing the manager's logger.
func (m *Manager) Mapper(title string, opts ...mapper.Option) *mapper.Mapper {
	opts = append([]mapper.Option{mapper.WithLogger(m.logger)}, opts...)
	return mapper.New(title, opts...)
}

// RegisterMapper stores mp as a composite process in factory factoryID,
// creating the factory when unknown. The process identifier is id.
func (m *Manager) RegisterMapper(factoryID, id string, mp *mapper.Mapper) (*process.Process, error) {
	p, err := mp.AsProcess(id)
	if err != nil {
		return nil, err
	}
	if err := m.Factory(factoryID).Register(p); err != nil {
		return nil, err
	}
	return p, nil
}
