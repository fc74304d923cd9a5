package models

import "time"

// MetadataKey is the reserved top-level key in a case store file that holds
// the most recent theme finalization output. It is not a case id; the store
// rejects case operations against it.
const MetadataKey = "_finalization"

// FinalTheme is one consolidated theme definition.
type FinalTheme struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	MergedFrom  []string `json:"merged_from,omitempty"`
}

// FinalizationOutput is the result of the theme finalization phase. It is
// persisted under MetadataKey so the candidate-to-final mapping survives
// later bulk edits of candidate themes.
type FinalizationOutput struct {
	FinalThemes []FinalTheme      `json:"final_themes"`
	Mappings    map[string]string `json:"mappings"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// ThemeNames returns the final theme names in definition order.
func (f *FinalizationOutput) ThemeNames() []string {
	names := make([]string, 0, len(f.FinalThemes))
	for _, t := range f.FinalThemes {
		names = append(names, t.Name)
	}
	return names
}
