package dashboard

import (
	"fmt"
	"io"
)

// GeneratedConfigs holds both generated YAML outputs
type GeneratedConfigs struct {
	Templates string
	Cards     string
}

// GenerateConfigs produces both YAML configurations for the given
// frequency domains.
func GenerateConfigs(ids []string) GeneratedConfigs {
	cfg := DefaultConfig(ids)
	return GeneratedConfigs{
		Templates: GenerateTemplatesYAML(cfg),
		Cards:     GenerateCardsYAML(cfg),
	}
}

// Generate writes the template sensors block and the Lovelace card
// stack for the given frequency domains.
func Generate(w io.Writer, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("no frequency domains to generate a dashboard for")
	}

	configs := GenerateConfigs(ids)
	_, err := fmt.Fprintf(w,
		"# Template sensors, for the 'template: sensor:' block of configuration.yaml\n%s\n# Lovelace card\n%s",
		configs.Templates, configs.Cards)
	return err
}
