package app

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPanel_Lines(t *testing.T) {
	p := NewPanel([]string{"input_1", "input_2"})
	p.Set("input_1", 42)
	p.Set("extra", 0.5)

	got := p.Lines()
	want := []string{
		"input_1:      42",
		"input_2:        ",
		"extra:       0.5",
	}
	if len(got) != len(want) {
		t.Fatalf("Lines() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPanel_LongLabelTruncated(t *testing.T) {
	p := NewPanel(nil)
	p.Set("temperatura_invernadero", 21.5)

	line := p.Lines()[0]
	if n := utf8.RuneCountInString(line); n != PanelWidth {
		t.Errorf("line %q has %d runes, want %d", line, n, PanelWidth)
	}
	if !strings.HasSuffix(line, "21.5") {
		t.Errorf("line %q lost the value", line)
	}
}

func TestPanel_Render(t *testing.T) {
	p := NewPanel([]string{"boton"})
	p.Set("boton", 1)

	var b strings.Builder
	if err := p.Render(&b); err != nil {
		t.Fatal(err)
	}
	if b.String() != "boton:         1\n\n" {
		t.Errorf("Render() = %q", b.String())
	}
}
