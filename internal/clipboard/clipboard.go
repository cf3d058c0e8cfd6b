// Package clipboard copies text to the system clipboard.
package clipboard

import (
	"fmt"

	"github.com/atotto/clipboard"
)

// Writer puts text on a clipboard.
type Writer interface {
	WriteText(text string) error
}

// System writes to the operating system clipboard.
type System struct{}

// WriteText copies text to the system clipboard.
func (System) WriteText(text string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("clipboard: no clipboard utility available")
	}
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("clipboard: %w", err)
	}
	return nil
}

// Memory is an in-process clipboard for tests and headless sessions.
type Memory struct {
	Text string
	Err  error
}

// WriteText stores text unless Err is set.
func (m *Memory) WriteText(text string) error {
	if m.Err != nil {
		return m.Err
	}
	m.Text = text
	return nil
}
