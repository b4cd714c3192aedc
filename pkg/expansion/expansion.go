// Package expansion tracks which nodes of a blackboard tree are expanded.
//
// Two layers are kept: defaults recomputed from every snapshot, and explicit
// user choices that survive refreshes for the lifetime of the owning session.
// The effective state of a path is the user choice when present, otherwise the
// default, otherwise collapsed.
package expansion

import (
	"github.com/Dicklesworthstone/blackboard_viewer/pkg/model"
)

// DefaultLargeStringThreshold is the rune count above which a string value
// starts collapsed.
const DefaultLargeStringThreshold = 100

// Options control default computation
type Options struct {
	LargeStringThreshold int
}

// DefaultOptions returns the stock thresholds
func DefaultOptions() Options {
	return Options{LargeStringThreshold: DefaultLargeStringThreshold}
}

func (o Options) threshold() int {
	if o.LargeStringThreshold <= 0 {
		return DefaultLargeStringThreshold
	}
	return o.LargeStringThreshold
}

// IsLargeString reports whether v is a string long enough to be shown
// truncated behind a toggle.
func (o Options) IsLargeString(v model.Value) bool {
	return v.Kind() == model.KindString && v.Len() > o.threshold()
}

// Layer maps a node path to an expanded flag
type Layer map[model.Path]bool

// Clone returns an independent copy
func (l Layer) Clone() Layer {
	out := make(Layer, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// ComputeDefaults walks a snapshot and returns the default expansion of every
// togglable node. Root is always expanded. Large strings start collapsed,
// composites directly below root start expanded, deeper composites start
// collapsed. Scalars get no entry.
func ComputeDefaults(snapshot model.Value, opts Options) Layer {
	defaults := Layer{model.RootPath: true}
	var walk func(v model.Value, p model.Path)
	walk = func(v model.Value, p model.Path) {
		switch v.Kind() {
		case model.KindMapping:
			for _, f := range v.Fields() {
				visit(defaults, f.Value, p.Child(f.Key), opts, walk)
			}
		case model.KindSequence:
			for i, item := range v.Items() {
				visit(defaults, item, p.Index(i), opts, walk)
			}
		}
	}
	walk(snapshot, model.RootPath)
	return defaults
}

func visit(defaults Layer, v model.Value, p model.Path, opts Options, walk func(model.Value, model.Path)) {
	switch {
	case opts.IsLargeString(v):
		defaults[p] = false
	case v.IsComposite():
		defaults[p] = p.Depth() == 1
		walk(v, p)
	}
}

// Model is the expansion state of one thread session. It is not safe for
// concurrent use; the UI goroutine owns it.
type Model struct {
	opts      Options
	defaults  Layer
	user      Layer
	effective Layer
}

// New returns an empty model
func New(opts Options) *Model {
	return &Model{
		opts:      opts,
		defaults:  Layer{},
		user:      Layer{},
		effective: Layer{},
	}
}

// Options returns the thresholds used by ComputeDefaults
func (m *Model) Options() Options {
	return m.opts
}

// SetOptions changes the thresholds. They apply from the next Apply.
func (m *Model) SetOptions(opts Options) {
	m.opts = opts
}

// Apply recomputes defaults for a new snapshot and merges the user layer
// over them. Call it once per snapshot, before rendering.
func (m *Model) Apply(snapshot model.Value) Layer {
	return m.Merge(ComputeDefaults(snapshot, m.opts))
}

// Merge replaces the default layer and rebuilds the effective state for
// every path it names. User choices for paths missing from defaults are
// kept but have no effect until the path reappears.
func (m *Model) Merge(defaults Layer) Layer {
	m.defaults = defaults
	effective := make(Layer, len(defaults))
	for p, def := range defaults {
		if v, ok := m.user[p]; ok {
			effective[p] = v
			continue
		}
		effective[p] = def
	}
	m.effective = effective
	return effective.Clone()
}

// Expanded returns the effective state of a path; unknown paths are
// collapsed.
func (m *Model) Expanded(p model.Path) bool {
	return m.effective[p]
}

// Toggle flips the effective state of p, records it as a user choice and
// returns the new state.
func (m *Model) Toggle(p model.Path) bool {
	next := !m.Expanded(p)
	m.user[p] = next
	m.effective[p] = next
	return next
}

// Set records an explicit user choice for p.
func (m *Model) Set(p model.Path, expanded bool) {
	m.user[p] = expanded
	m.effective[p] = expanded
}

// Overrides returns a copy of the user layer
func (m *Model) Overrides() Layer {
	return m.user.Clone()
}

// Restore replaces the user layer, typically with choices loaded from a
// Store. The effective state is rebuilt against the current defaults.
func (m *Model) Restore(overrides Layer) {
	m.user = overrides.Clone()
	m.Merge(m.defaults)
}

// Defaults returns a copy of the current default layer
func (m *Model) Defaults() Layer {
	return m.defaults.Clone()
}
