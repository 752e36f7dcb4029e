package builtin

import (
	"github.com/wehubfusion/datamanager/pkg/mapper"
	"github.com/wehubfusion/datamanager/pkg/process"
	"github.com/wehubfusion/datamanager/pkg/registry"
)

// PipelineFactoryID is the factory the built-in pipelines are registered in.
const PipelineFactoryID = "pipeline"

// RegisterPipelines links text processes of m into composite processes and
// registers them in the pipeline factory. The text factory must be filled
// first.
//
//	pipeline.render_text  template, data, cutset="" -> text
//
// render_text formats template with data, trims the result and removes
// its diacritics.
func RegisterPipelines(m *registry.Manager, opts ...mapper.Option) error {
	steps := make(map[string]*process.Process)
	for _, id := range []string{"text.format", "text.trim", "text.normalize"} {
		p, err := m.ProcessFrom(TextFactoryID, id)
		if err != nil {
			return err
		}
		steps[id] = p
	}
	format, trim, normalize := steps["text.format"], steps["text.trim"], steps["text.normalize"]

	render := m.Mapper("render_text", opts...)
	if err := render.Link(format.MustOutput("text")).To(trim.MustInput("s")); err != nil {
		return err
	}
	if err := render.Link(trim.MustOutput("text")).To(normalize.MustInput("s")); err != nil {
		return err
	}
	_, err := m.RegisterMapper(PipelineFactoryID, "pipeline.render_text", render)
	return err
}
