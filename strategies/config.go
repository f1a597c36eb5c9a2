package strategies

// Config is the strategies section of the agent configuration.
type Config struct {
	Enabled []string `yaml:"enabled" json:"enabled" default:"[\"pvg\",\"smc\",\"tpr\"]" validate:"min=1"`
	// Window is the number of bars fetched for each evaluation.
	Window int `yaml:"window" json:"window" default:"120" validate:"gt=0"`
	// Weights are the initial fusion weights by strategy id.
	Weights map[string]float64 `yaml:"weights" json:"weights" validate:"dive,gte=0,lte=1"`

	PVG      PVGConfig      `yaml:"pvg" json:"pvg"`
	SMC      SMCConfig      `yaml:"smc" json:"smc"`
	TPR      TPRConfig      `yaml:"tpr" json:"tpr"`
	EMACross EMACrossConfig `yaml:"ema_cross" json:"ema_cross"`
}

// DefaultConfig returns the strategies configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Enabled:  []string{"pvg", "smc", "tpr"},
		Window:   120,
		PVG:      PVGConfigDefaults(),
		SMC:      SMCConfigDefaults(),
		TPR:      TPRConfigDefaults(),
		EMACross: EMACrossConfigDefaults(),
	}
}

// DefaultWeight is the initial weight of a strategy without a configured one.
const DefaultWeight = 0.5

// InitialWeight returns the configured starting weight for id.
func (c Config) InitialWeight(id string) float64 {
	if w, ok := c.Weights[normalize(id)]; ok {
		return w
	}
	return DefaultWeight
}

// MinBars returns the longest history any enabled strategy needs. Unknown
// ids are skipped.
func (c Config) MinBars() int {
	var strats []Strategy
	for _, id := range c.Enabled {
		if s, err := New(id, c); err == nil {
			strats = append(strats, s)
		}
	}
	return MinBars(strats)
}
