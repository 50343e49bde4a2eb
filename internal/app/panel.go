package app

import (
	"io"
	"strconv"
	"strings"
	"sync"
)

// PanelWidth is the column count of the 16x2 character display the
// panel stands in for.
const PanelWidth = 16

// Panel keeps the last value of each subscribed variable and renders
// them one per row: "<label>:" on the left, value right-aligned.
type Panel struct {
	mu     sync.Mutex
	order  []string
	values map[string]string
}

// NewPanel creates a panel with a row for each label, in order. Rows
// show no value until the first [Panel.Set].
func NewPanel(labels []string) *Panel {
	p := &Panel{values: make(map[string]string, len(labels))}
	for _, l := range labels {
		p.row(l)
	}
	return p
}

func (p *Panel) row(label string) {
	if _, ok := p.values[label]; !ok {
		p.order = append(p.order, label)
		p.values[label] = ""
	}
}

// Set records value for label, adding a row if label is new.
func (p *Panel) Set(label string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.row(label)
	p.values[label] = strconv.FormatFloat(value, 'f', -1, 64)
}

// Value returns the text shown for label.
func (p *Panel) Value(label string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[label]
	return v, ok
}

// Lines returns the rendered rows, each exactly PanelWidth runes.
// Labels are cut to leave room for the value.
func (p *Panel) Lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	lines := make([]string, 0, len(p.order))
	for _, label := range p.order {
		lines = append(lines, formatRow(label, p.values[label]))
	}
	return lines
}

func formatRow(label, value string) string {
	if len(value) > PanelWidth {
		value = value[:PanelWidth]
	}
	left := []rune(label + ":")
	if room := PanelWidth - len(value); len(left) > room {
		left = left[:room]
	}
	pad := PanelWidth - len(left) - len(value)
	return string(left) + strings.Repeat(" ", pad) + value
}

// Render writes the rows to w followed by a blank line.
func (p *Panel) Render(w io.Writer) error {
	var b strings.Builder
	for _, l := range p.Lines() {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}
