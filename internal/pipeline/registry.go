package pipeline

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// Default selector and format used when a request leaves them empty.
const (
	DefaultSelector = "std"
	DefaultFormat   = "svg"
)

// Info describes one registered selector and the formats it can produce.
type Info struct {
	Name    string   `json:"name"`
	Layout  string   `json:"layout"`
	Formats []string `json:"formats"`
}

type builderEntry struct {
	builder Builder
	layout  Layout
}

// Registry holds the registered builders and exporters and composes them
// into pipelines on demand.
type Registry struct {
	mu        sync.RWMutex
	builders  map[string]builderEntry
	exporters map[string]Exporter
}

// NewRegistry creates an empty pipeline registry.
func NewRegistry() *Registry {
	return &Registry{
		builders:  make(map[string]builderEntry),
		exporters: make(map[string]Exporter),
	}
}

// NewDefaultRegistry registers the std and rooted builders over src with the
// standard layout, plus the SVG and PNG exporters.
func NewDefaultRegistry(src Source) (*Registry, error) {
	png, err := NewPNGExporter()
	if err != nil {
		return nil, errors.Wrap(err, "create png exporter")
	}

	r := NewRegistry()
	layout := NewStdLayout()
	r.Register("std", NewStdBuilder(src), layout)
	r.Register("rooted", NewRootedBuilder(src), layout)
	r.RegisterExporter(NewSVGExporter())
	r.RegisterExporter(png)
	return r, nil
}

// Register adds a builder and the layout that follows it under selector.
func (r *Registry) Register(selector string, b Builder, l Layout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[selector] = builderEntry{builder: b, layout: l}
}

// RegisterExporter adds e under its format name.
func (r *Registry) RegisterExporter(e Exporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exporters[e.Format()] = e
}

// Resolve returns the pipeline for selector and format. Empty values fall
// back to DefaultSelector and DefaultFormat.
func (r *Registry) Resolve(selector, format string) (*Pipeline, error) {
	if selector == "" {
		selector = DefaultSelector
	}
	if format == "" {
		format = DefaultFormat
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	be, ok := r.builders[selector]
	if !ok {
		return nil, errors.WithHintf(errors.Wrapf(ErrUnknownPipeline, "%q", selector),
			"registered pipelines: %v", r.namesLocked())
	}
	e, ok := r.exporters[format]
	if !ok {
		return nil, errors.WithHintf(errors.Wrapf(ErrUnknownFormat, "%q", format),
			"registered formats: %v", r.formatsLocked())
	}
	return &Pipeline{
		Name:     selector,
		Builder:  be.builder,
		Layout:   be.layout,
		Exporter: e,
	}, nil
}

// List returns every registered selector sorted by name for a stable API
// response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	formats := r.formatsLocked()
	infos := make([]Info, 0, len(r.builders))
	for name, be := range r.builders {
		infos = append(infos, Info{
			Name:    name,
			Layout:  be.layout.Name(),
			Formats: formats,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) formatsLocked() []string {
	formats := make([]string, 0, len(r.exporters))
	for f := range r.exporters {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}
