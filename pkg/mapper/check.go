package mapper

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wehubfusion/datamanager/pkg/process"
)

// CheckFunc validates the values around a process execution: its resolved
// inputs for a before check, its results for an after check. A failing
// check is logged and does not stop the run.
type CheckFunc func(ctx context.Context, values map[string]any) error

type check struct {
	name string
	fn   CheckFunc
}

// CheckBuilder registers checks for one process.
type CheckBuilder struct {
	target *process.Process
	checks map[*process.Process][]check
}

// Before returns a builder for checks that run before p executes.
func (m *Mapper) Before(p *process.Process) *CheckBuilder {
	return &CheckBuilder{target: p, checks: m.before}
}

// After returns a builder for checks that run after p executes.
func (m *Mapper) After(p *process.Process) *CheckBuilder {
	return &CheckBuilder{target: p, checks: m.after}
}

// Check adds a named check.
func (b *CheckBuilder) Check(name string, fn CheckFunc) *CheckBuilder {
	if fn != nil && b.target != nil {
		b.checks[b.target] = append(b.checks[b.target], check{name: name, fn: fn})
	}
	return b
}

func (m *Mapper) runChecks(ctx context.Context, p *process.Process, stage string, checks []check, values map[string]any) {
	for _, c := range checks {
		if err := runCheck(ctx, c, values); err != nil {
			m.logger.Warn("Check failed",
				zap.String("mapper", m.title),
				zap.String("process", p.Title()),
				zap.String("stage", stage),
				zap.String("check", c.name),
				zap.Error(err))
		}
	}
}

func runCheck(ctx context.Context, c check, values map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
		}
	}()
	return c.fn(ctx, values)
}
