package dashboard

import "fmt"

// TemplateType represents the type of template calculation
type TemplateType int

const (
	TemplateAverage TemplateType = iota
	TemplateMax
)

func (t TemplateType) String() string {
	switch t {
	case TemplateAverage:
		return "average"
	case TemplateMax:
		return "max"
	default:
		return "average"
	}
}

// SensorTemplate defines a calculated sensor template
type SensorTemplate struct {
	Name     string
	Unit     string
	Type     TemplateType
	Entities []string
}

// Severity holds the gauge color thresholds for the load dials
type Severity struct {
	Green  uint
	Yellow uint
	Red    uint
}

// Domain names one managed frequency domain on the dashboard
type Domain struct {
	ID string
}

// LoadEntity returns the entity id of the domain's load sensor
func (d Domain) LoadEntity() string {
	return fmt.Sprintf("sensor.ecodemand_%s_load", d.ID)
}

// FrequencyEntity returns the entity id of the domain's frequency sensor
func (d Domain) FrequencyEntity() string {
	return fmt.Sprintf("sensor.ecodemand_%s_frequency", d.ID)
}

// Config holds the complete dashboard configuration
type Config struct {
	Domains   []Domain
	Templates []SensorTemplate
	Severity  Severity
}

// DefaultConfig builds the dashboard configuration for the given
// frequency domains.
func DefaultConfig(ids []string) Config {
	domains := make([]Domain, 0, len(ids))
	loadEntities := make([]string, 0, len(ids))
	freqEntities := make([]string, 0, len(ids))
	for _, id := range ids {
		d := Domain{ID: id}
		domains = append(domains, d)
		loadEntities = append(loadEntities, d.LoadEntity())
		freqEntities = append(freqEntities, d.FrequencyEntity())
	}

	return Config{
		Domains: domains,
		Templates: []SensorTemplate{
			{
				Name:     "ecodemand_average_load",
				Unit:     "%",
				Type:     TemplateAverage,
				Entities: loadEntities,
			},
			{
				Name:     "ecodemand_peak_frequency",
				Unit:     "MHz",
				Type:     TemplateMax,
				Entities: freqEntities,
			},
		},
		Severity: Severity{Green: 0, Yellow: 60, Red: 85},
	}
}
