package domain

// DefaultStyleName is the generation style used when a request names none or an unknown one.
const DefaultStyleName = "balanced"

// GenerationStyle is a named set of sampling parameters.
type GenerationStyle struct {
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	TopP          float64 `json:"top_p"`
	TopK          int     `json:"top_k"`
	RepeatPenalty float64 `json:"repeat_penalty"`
}

// DefaultGenerationStyles returns the built-in style presets.
func DefaultGenerationStyles() map[string]GenerationStyle {
	return map[string]GenerationStyle{
		"balanced": {Name: "balanced", Description: "Balanced Mode", TopP: 0.9, TopK: 40, RepeatPenalty: 1.1},
		"creative": {Name: "creative", Description: "Creative Mode", TopP: 0.95, TopK: 60, RepeatPenalty: 1.05},
		"focused":  {Name: "focused", Description: "Focused Mode", TopP: 0.8, TopK: 20, RepeatPenalty: 1.2},
		"detailed": {Name: "detailed", Description: "Detailed Mode", TopP: 0.9, TopK: 50, RepeatPenalty: 1.1},
	}
}
