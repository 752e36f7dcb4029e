// Package registry stores process templates and hands out independent
// instances of them.
package registry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	dmerrors "github.com/wehubfusion/datamanager/pkg/errors"
	"github.com/wehubfusion/datamanager/pkg/process"
)

// Factory holds an ordered set of process templates keyed by identifier.
// It is safe for concurrent use.
type Factory struct {
	id        string
	templates []*process.Process
	locked    bool
	logger    *zap.Logger
	mu        sync.RWMutex
}

// NewFactory creates an empty, unlocked factory.
func NewFactory(id string, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{id: id, logger: logger}
}

// ID returns the factory identifier.
func (f *Factory) ID() string { return f.id }

// Register stores p as a template. A template with the same identifier is
// replaced in place. A locked factory rejects the registration.
func (f *Factory) Register(p *process.Process) error {
	if p == nil {
		return dmerrors.Registry("nil process", dmerrors.ErrProcessNotFound)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.locked {
		f.logger.Warn("Registration rejected by locked factory",
			zap.String("factory", f.id),
			zap.String("process_id", p.Identifier()))
		return dmerrors.Registry(fmt.Sprintf("factory %s", f.id), dmerrors.ErrFactoryLocked)
	}

	for i, t := range f.templates {
		if t.Identifier() == p.Identifier() {
			f.templates[i] = p
			f.logger.Debug("Process replaced",
				zap.String("factory", f.id),
				zap.String("process_id", p.Identifier()))
			return nil
		}
	}
	f.templates = append(f.templates, p)
	f.logger.Debug("Process registered",
		zap.String("factory", f.id),
		zap.String("process_id", p.Identifier()),
		zap.String("title", p.Title()))
	return nil
}

// Process returns a fresh instance of the template registered under id.
// The template itself is never handed out.
func (f *Factory) Process(id string) (*process.Process, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, t := range f.templates {
		if t.Identifier() == id {
			return t.NewInstance(), nil
		}
	}
	return nil, dmerrors.Registry(fmt.Sprintf("process %s in factory %s", id, f.id), dmerrors.ErrProcessNotFound)
}

// Has reports whether a template is registered under id.
func (f *Factory) Has(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, t := range f.templates {
		if t.Identifier() == id {
			return true
		}
	}
	return false
}

// Processes returns the registered templates in registration order.
func (f *Factory) Processes() []*process.Process {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]*process.Process(nil), f.templates...)
}

// FindByKeyword returns the templates tagged with keyword, compared without
// regard to case.
func (f *Factory) FindByKeyword(keyword string) []*process.Process {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var found []*process.Process
	for _, t := range f.templates {
		if t.HasKeyword(keyword) {
			found = append(found, t)
		}
	}
	return found
}

// Lock makes the factory read-only.
func (f *Factory) Lock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = true
}

// Unlock allows registrations again.
func (f *Factory) Unlock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = false
}

// Locked reports whether the factory rejects registrations.
func (f *Factory) Locked() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.locked
}

// Count returns the number of registered templates.
func (f *Factory) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.templates)
}
