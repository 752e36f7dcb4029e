package mapper

import (
	"fmt"
	"strings"

	dmerrors "github.com/wehubfusion/datamanager/pkg/errors"
	"github.com/wehubfusion/datamanager/pkg/process"
)

// graph is the linked form of a mapper's wiring.
type graph struct {
	processes []*process.Process
	inputs    []*process.Input
	outputs   []*process.Output
	layers    [][]*process.Process
	consumed  map[*process.Output]bool
	stranded  []*process.Process
}

func (g *graph) strandedTitles() []string {
	if g == nil {
		return nil
	}
	titles := make([]string, 0, len(g.stranded))
	for _, p := range g.stranded {
		titles = append(titles, fmt.Sprintf("%s(%s)", p.Title(), p.Identifier()))
	}
	return titles
}

// buildGraph collects the participating processes, the exposed slots and
// the execution layers. The graph is returned alongside an error so the
// stranded processes can be reported.
func buildGraph(m *Mapper) (*graph, error) {
	g := &graph{consumed: make(map[*process.Output]bool, len(m.edges))}
	for _, out := range m.edges {
		g.consumed[out] = true
	}

	seen := make(map[*process.Process]bool)
	collect := func(p *process.Process) {
		if p != nil && !seen[p] {
			seen[p] = true
			g.processes = append(g.processes, p)
		}
	}
	for _, in := range m.edgeOrder {
		collect(m.edges[in].Owner())
		collect(in.Owner())
	}
	for _, alias := range m.aliasOrder {
		for _, s := range m.aliases[alias] {
			collect(s.Owner())
		}
	}
	for _, p := range m.added {
		collect(p)
	}

	g.collectBoundary(m)

	if err := g.layer(m); err != nil {
		return g, err
	}
	return g, nil
}

func (g *graph) collectBoundary(m *Mapper) {
	exposedIn := make(map[string]bool)
	exposedOut := make(map[string]bool)
	for _, p := range g.processes {
		for _, in := range p.Inputs() {
			if _, linked := m.edges[in]; linked {
				continue
			}
			alias, ok := m.aliasOf[in]
			if !ok {
				g.inputs = append(g.inputs, in)
				continue
			}
			if exposedIn[alias] {
				continue
			}
			exposedIn[alias] = true
			if in.Name() == alias {
				g.inputs = append(g.inputs, in)
			} else {
				g.inputs = append(g.inputs, process.NewInput(alias, in.Type()))
			}
		}
		for _, out := range p.Outputs() {
			if g.consumed[out] {
				continue
			}
			alias, ok := m.aliasOf[out]
			if !ok {
				g.outputs = append(g.outputs, out)
				continue
			}
			if exposedOut[alias] {
				continue
			}
			exposedOut[alias] = true
			if out.Name() == alias {
				g.outputs = append(g.outputs, out)
			} else {
				g.outputs = append(g.outputs, process.NewOutput(alias, out.Type()))
			}
		}
	}
}

// layer schedules processes by availability. An input is available when it
// is not fed by a link, or once the producer of its link is scheduled in an
// earlier layer.
func (g *graph) layer(m *Mapper) error {
	available := make(map[*process.Input]bool)
	for _, p := range g.processes {
		for _, in := range p.Inputs() {
			if _, linked := m.edges[in]; !linked {
				available[in] = true
			}
		}
	}

	feeds := make(map[*process.Output][]*process.Input)
	for _, in := range m.edgeOrder {
		out := m.edges[in]
		feeds[out] = append(feeds[out], in)
	}

	pending := append([]*process.Process(nil), g.processes...)
	for len(pending) > 0 {
		var (
			layer []*process.Process
			rest  []*process.Process
		)
		for _, p := range pending {
			if ready(p, available) {
				layer = append(layer, p)
			} else {
				rest = append(rest, p)
			}
		}
		if len(layer) == 0 {
			g.stranded = rest
			names := make([]string, 0, len(rest))
			for _, p := range rest {
				names = append(names, p.Title())
			}
			return dmerrors.Link(
				fmt.Sprintf("processes %s can never run", strings.Join(names, ", ")),
				dmerrors.ErrUnresolvable)
		}

		for _, p := range layer {
			for _, out := range p.Outputs() {
				for _, in := range feeds[out] {
					available[in] = true
				}
			}
		}
		g.layers = append(g.layers, layer)
		pending = rest
	}
	return nil
}

func ready(p *process.Process, available map[*process.Input]bool) bool {
	for _, in := range p.Inputs() {
		if !available[in] {
			return false
		}
	}
	return true
}
