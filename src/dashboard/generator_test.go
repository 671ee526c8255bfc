package dashboard

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTemplatesYAML(t *testing.T) {
	cfg := DefaultConfig([]string{"policy0", "policy4"})
	out := GenerateTemplatesYAML(cfg)

	assert.Contains(t, out, `- name: "ecodemand_average_load"`)
	assert.Contains(t, out, `unit_of_measurement: "%"`)
	assert.Contains(t, out,
		`['sensor.ecodemand_policy0_load', 'sensor.ecodemand_policy4_load'] | map('states') | map('float') | average | round(0)`)

	assert.Contains(t, out, `- name: "ecodemand_peak_frequency"`)
	assert.Contains(t, out, `unit_of_measurement: "MHz"`)
	assert.Contains(t, out,
		`['sensor.ecodemand_policy0_frequency', 'sensor.ecodemand_policy4_frequency'] | map('states') | map('float') | max | round(0)`)
}

func TestGenerateCardsYAML(t *testing.T) {
	cfg := DefaultConfig([]string{"policy0", "policy4"})
	out := GenerateCardsYAML(cfg)

	t.Run("one gauge per domain", func(t *testing.T) {
		assert.Equal(t, 2, strings.Count(out, "- type: gauge"))
		assert.Contains(t, out, "    entity: sensor.ecodemand_policy0_load")
		assert.Contains(t, out, "    name: policy4 load")
	})

	t.Run("severity thresholds", func(t *testing.T) {
		assert.Contains(t, out, "green: 0")
		assert.Contains(t, out, "yellow: 60")
		assert.Contains(t, out, "red: 85")
	})

	t.Run("shared history graph", func(t *testing.T) {
		assert.Equal(t, 1, strings.Count(out, "- type: history-graph"))
		assert.Contains(t, out, "- entity: sensor.ecodemand_policy0_frequency")
		assert.Contains(t, out, "- entity: sensor.ecodemand_policy4_frequency")
	})

	t.Run("wrapped in a vertical stack", func(t *testing.T) {
		assert.True(t, strings.HasPrefix(out, "cards:\n"))
		assert.True(t, strings.HasSuffix(out, "type: vertical-stack\n"))
	})
}

func TestGenerate(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Generate(&buf, []string{"policy0"}))

	out := buf.String()
	assert.Contains(t, out, "# Template sensors")
	assert.Contains(t, out, "# Lovelace card")
	assert.Contains(t, out, "sensor.ecodemand_policy0_load")

	t.Run("no domains", func(t *testing.T) {
		assert.Error(t, Generate(&buf, nil))
	})
}
