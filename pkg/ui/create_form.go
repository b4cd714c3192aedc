package ui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
)

// createForm asks for the tree type and model of a new thread. Field
// values live behind a pointer so the huh bindings stay valid while the
// shell model is copied.
type createForm struct {
	form      *huh.Form
	treeType  string
	modelName string
}

func newCreateForm(trees, models []string, width int) *createForm {
	f := &createForm{}
	if len(trees) > 0 {
		f.treeType = trees[0]
	}
	if len(models) > 0 {
		f.modelName = models[0]
	}

	treeField := huh.NewSelect[string]().
		Title("Tree type").
		Options(huh.NewOptions(trees...)...).
		Value(&f.treeType)
	modelField := huh.NewInput().
		Title("Model").
		Placeholder("Model name").
		Suggestions(models).
		Value(&f.modelName)

	f.form = huh.NewForm(huh.NewGroup(treeField, modelField)).
		WithShowHelp(true).
		WithWidth(formWidth(width))
	return f
}

func formWidth(width int) int {
	w := width / 2
	if w < 30 {
		w = 30
	}
	if w > 60 {
		w = 60
	}
	return w
}

func (f *createForm) Init() tea.Cmd {
	return f.form.Init()
}

// Update feeds msg to the form and reports whether it finished.
func (f *createForm) Update(msg tea.Msg) (done bool, cmd tea.Cmd) {
	m, cmd := f.form.Update(msg)
	if form, ok := m.(*huh.Form); ok {
		f.form = form
	}
	return f.form.State != huh.StateNormal, cmd
}

// Submitted reports whether the user confirmed the form.
func (f *createForm) Submitted() bool {
	return f.form.State == huh.StateCompleted
}

// Values returns the trimmed tree type and model name
func (f *createForm) Values() (treeType, modelName string) {
	return strings.TrimSpace(f.treeType), strings.TrimSpace(f.modelName)
}

func (f *createForm) View() string {
	return f.form.View()
}
