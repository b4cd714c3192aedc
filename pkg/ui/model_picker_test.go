package ui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestNewModelPickerModel(t *testing.T) {
	theme := DefaultTheme(lipgloss.DefaultRenderer())
	picker := NewModelPickerModel("thread-1", "gpt-4o", []string{"gpt-4o-mini", "gpt-4o", "claude"}, theme)

	if len(picker.models) != 3 {
		t.Errorf("Expected 3 models, got %d", len(picker.models))
	}
	if picker.SelectedModel() != "gpt-4o" {
		t.Errorf("Expected current model to be selected, got %q", picker.SelectedModel())
	}
	if picker.Changed() {
		t.Error("Changed() should be false before moving")
	}
	if picker.ThreadID() != "thread-1" {
		t.Errorf("ThreadID() = %q", picker.ThreadID())
	}
}

func TestNewModelPickerModelUnknownCurrent(t *testing.T) {
	theme := DefaultTheme(lipgloss.DefaultRenderer())
	picker := NewModelPickerModel("t", "local-llama", []string{"a", "b"}, theme)

	if len(picker.models) != 3 || picker.models[0] != "local-llama" {
		t.Errorf("current model should be listed first, got %v", picker.models)
	}
	if picker.SelectedModel() != "local-llama" {
		t.Errorf("Expected current model selected, got %q", picker.SelectedModel())
	}
}

func TestNewModelPickerModelEmpty(t *testing.T) {
	theme := DefaultTheme(lipgloss.DefaultRenderer())
	picker := NewModelPickerModel("t", "", nil, theme)

	if picker.SelectedModel() != "" || picker.Changed() {
		t.Error("empty picker should select nothing")
	}
	picker.MoveDown()
	picker.MoveUp()
	if !strings.Contains(picker.View(), "No models available") {
		t.Error("empty picker should say so")
	}
}

func TestModelPickerNavigation(t *testing.T) {
	theme := DefaultTheme(lipgloss.DefaultRenderer())
	picker := NewModelPickerModel("t", "a", []string{"a", "b", "c"}, theme)

	picker.MoveUp()
	if picker.selectedIndex != 0 {
		t.Errorf("MoveUp at start should stay at 0, got %d", picker.selectedIndex)
	}
	picker.MoveDown()
	if picker.SelectedModel() != "b" || !picker.Changed() {
		t.Errorf("After MoveDown, expected 'b' and Changed, got %q", picker.SelectedModel())
	}
	for i := 0; i < 10; i++ {
		picker.MoveDown()
	}
	if picker.selectedIndex != 2 {
		t.Errorf("MoveDown at end should stay at 2, got %d", picker.selectedIndex)
	}
}

func TestModelPickerView(t *testing.T) {
	theme := DefaultTheme(lipgloss.DefaultRenderer())
	picker := NewModelPickerModel("0123456789abcdef", "claude", []string{"gpt", "claude"}, theme)
	picker.SetSize(80, 40)

	output := picker.View()
	mustContain := []string{
		"Change Model",
		"thread 01234567",
		"gpt",
		"> claude",
		"✓",
		"j/k: navigate",
		"esc: cancel",
	}
	for _, expected := range mustContain {
		if !strings.Contains(output, expected) {
			t.Errorf("Expected View() to contain %q", expected)
		}
	}

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "gpt") && strings.Contains(line, "✓") {
			t.Error("only the current model should carry a checkmark")
		}
	}
}
