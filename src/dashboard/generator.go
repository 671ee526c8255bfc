package dashboard

import (
	"fmt"
	"strings"
)

// indentWriter helps produce properly indented YAML output
type indentWriter struct {
	builder *strings.Builder
	depth   int
}

func newIndentWriter() *indentWriter {
	return &indentWriter{builder: &strings.Builder{}}
}

func (w *indentWriter) indent() {
	w.depth++
}

func (w *indentWriter) unindent() {
	w.depth--
}

func (w *indentWriter) writeLine(line string) {
	for i := 0; i < w.depth*2; i++ {
		w.builder.WriteByte(' ')
	}
	w.builder.WriteString(line)
	w.builder.WriteByte('\n')
}

func (w *indentWriter) writeRaw(s string) {
	w.builder.WriteString(s)
}

func (w *indentWriter) String() string {
	return w.builder.String()
}

// GenerateTemplatesYAML generates the Home Assistant template sensors YAML
func GenerateTemplatesYAML(cfg Config) string {
	w := newIndentWriter()

	for _, sensor := range cfg.Templates {
		w.writeLine(fmt.Sprintf("- name: \"%s\"", sensor.Name))
		w.writeLine(fmt.Sprintf("  unique_id: %s", sensor.Name))
		w.writeLine(fmt.Sprintf("  unit_of_measurement: \"%s\"", sensor.Unit))

		quoted := make([]string, len(sensor.Entities))
		for i, e := range sensor.Entities {
			quoted[i] = fmt.Sprintf("'%s'", e)
		}
		stateExpr := fmt.Sprintf("[%s] | map('states') | map('float') | %s | round(0)",
			strings.Join(quoted, ", "), sensor.Type.String())
		w.writeLine(fmt.Sprintf("  state: \"{{ %s }}\"", stateExpr))
		w.writeLine("")
	}

	return w.String()
}

// GenerateCardsYAML generates the Lovelace card stack YAML
func GenerateCardsYAML(cfg Config) string {
	w := newIndentWriter()

	w.writeLine("cards:")
	w.indent()

	// One load dial per domain
	for _, d := range cfg.Domains {
		w.writeLine("- type: gauge")
		w.indent()
		w.writeLine(fmt.Sprintf("entity: %s", d.LoadEntity()))
		w.writeLine(fmt.Sprintf("name: %s load", d.ID))
		w.writeLine("min: 0")
		w.writeLine("max: 100")
		w.writeLine("needle: true")
		w.writeLine("severity:")
		w.indent()
		w.writeLine(fmt.Sprintf("green: %d", cfg.Severity.Green))
		w.writeLine(fmt.Sprintf("yellow: %d", cfg.Severity.Yellow))
		w.writeLine(fmt.Sprintf("red: %d", cfg.Severity.Red))
		w.unindent()
		w.unindent()
	}

	// One shared frequency history graph
	w.writeLine("- type: history-graph")
	w.indent()
	w.writeLine("title: CPU frequency")
	w.writeLine("hours_to_show: 1")
	w.writeLine("entities:")
	w.indent()
	for _, d := range cfg.Domains {
		w.writeLine(fmt.Sprintf("- entity: %s", d.FrequencyEntity()))
		w.indent()
		w.writeLine(fmt.Sprintf("name: %s", d.ID))
		w.unindent()
	}
	w.unindent()
	w.unindent()

	w.unindent()

	// Write fixed configuration
	w.writeRaw(`type: vertical-stack
`)

	return w.String()
}
