package iteration

import (
	"context"
	"fmt"

	dmerrors "github.com/wehubfusion/datamanager/pkg/errors"
	"github.com/wehubfusion/datamanager/pkg/process"
)

// Slot names of processes built by Each.
const (
	ItemsInput     = "items"
	ResultsOutput  = "results"
	eachKeyword    = "iteration"
	eachTitleAffix = "each "
)

// Each builds a process that runs template once per item of its "items"
// input and returns the outputs as "results", in item order.
//
// The template must declare exactly one required input; every item is
// passed to it. With one output the result list holds that output's
// values, otherwise it holds one result map per item. A single-output body
// that returns a map without the output key also yields the map. Each item runs on
// its own instance of template.
func Each(template *process.Process, config Config) (*process.Process, error) {
	if template == nil {
		return nil, dmerrors.Construction("each", fmt.Errorf("nil template"))
	}
	var item *process.Input
	for _, in := range template.Inputs() {
		if in.Optional() {
			continue
		}
		if item != nil {
			return nil, dmerrors.Construction(
				fmt.Sprintf("each %s: template has more than one required input", template.Title()),
				dmerrors.ErrInputCount)
		}
		item = in
	}
	if item == nil {
		return nil, dmerrors.Construction(
			fmt.Sprintf("each %s: template has no required input", template.Title()),
			dmerrors.ErrInputCount)
	}

	it := NewIterator(config)
	name := item.Name()
	outputs := template.Outputs()

	run := func(ctx context.Context, args []any) (any, error) {
		items, ok := args[0].([]any)
		if !ok && args[0] != nil {
			return nil, fmt.Errorf("items must be a list, got %T", args[0])
		}
		return it.Process(ctx, items, func(ctx context.Context, v any, _ int) (any, error) {
			p := template.NewInstance()
			if err := p.Execute(ctx, map[string]any{name: v}); err != nil {
				return nil, err
			}
			if len(outputs) == 1 {
				if r, ok := p.Result(outputs[0].Name()); ok {
					return r, nil
				}
			}
			return p.Results(), nil
		})
	}

	return process.New(eachTitleAffix+template.Title()).
		Description(fmt.Sprintf("Runs %s for every item", template.Title())).
		Keywords(append(template.Keywords(), eachKeyword)...).
		Input(ItemsInput, process.TypeOf[[]any]()).
		Output(ResultsOutput, process.TypeOf[[]any]()).
		Body(process.Dynamic(1, run)).
		Build()
}
