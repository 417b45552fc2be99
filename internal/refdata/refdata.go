// Package refdata holds the reference lookup tables the pipelines join
// against: life-stage codes, the survey species translation table, and the
// size-class labelling/area rules. The tables ship with compiled-in
// defaults and can be replaced wholesale from a YAML file, so a new
// simulator schema version does not require a rebuild.
package refdata

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrUnknownStageCode is returned when a document references a life-stage
// code outside the configured table. The default table was derived from a
// single reference parameter file, so unknown codes are rejected rather
// than guessed.
var ErrUnknownStageCode = errors.New("unknown life-stage code")

// SpeciesEntry maps one survey species id to its display name. Slice order
// in the table is the canonical species order for density output.
type SpeciesEntry struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

// AreaTier maps a DBH class to the area (ha) of the sampling plot that
// class was counted on.
type AreaTier struct {
	DBHClass float64 `yaml:"dbh_class"`
	AreaHa   float64 `yaml:"area_ha"`
}

// SizeClassRules controls size-class label derivation and sampling areas.
type SizeClassRules struct {
	SeedlingClass float64    `yaml:"seedling_class"` // DBH class that means "seedling"
	SeedlingLabel string     `yaml:"seedling_label"`
	LabelOffset   float64    `yaml:"label_offset"` // class midpoint -> class upper bound
	AreaTiers     []AreaTier `yaml:"area_tiers"`
	DefaultAreaHa float64    `yaml:"default_area_ha"`
}

// Reference is the full set of lookup tables.
type Reference struct {
	LifeStages    map[int]string `yaml:"life_stages"`
	SurveySpecies []SpeciesEntry `yaml:"survey_species"`
	SizeClasses   SizeClassRules `yaml:"size_classes"`
}

// Default returns the compiled-in reference tables: the boreal survey
// species set and the life-stage codes observed in the reference
// parameter file (1, 2, 3, 5; code 4 has never been seen).
func Default() *Reference {
	return &Reference{
		LifeStages: map[int]string{
			1: "seedling",
			2: "sapling",
			3: "adult",
			5: "snag",
		},
		SurveySpecies: []SpeciesEntry{
			{ID: 1, Name: "Balsam_Fir"},
			{ID: 2, Name: "White_Spruce"},
			{ID: 3, Name: "Black_Spruce"},
			{ID: 4, Name: "Jack_Pine"},
			{ID: 5, Name: "Trembling_Aspen"},
			{ID: 6, Name: "White_Birch"},
			{ID: 7, Name: "Balsam_Poplar"},
		},
		SizeClasses: SizeClassRules{
			SeedlingClass: 0.5,
			SeedlingLabel: "Seedling",
			LabelOffset:   2.5,
			AreaTiers: []AreaTier{
				{DBHClass: 0.5, AreaHa: 0.0012},
				{DBHClass: 2.5, AreaHa: 0.0064},
			},
			DefaultAreaHa: 0.0256,
		},
	}
}

// Load reads reference tables from a YAML file.
func Load(path string) (*Reference, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return LoadFromReader(file)
}

// LoadFromReader parses reference tables from an io.Reader.
func LoadFromReader(r io.Reader) (*Reference, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	ref := &Reference{}
	if err := yaml.Unmarshal(data, ref); err != nil {
		return nil, fmt.Errorf("parsing reference data: %w", err)
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return ref, nil
}

// Validate checks the tables are usable.
func (r *Reference) Validate() error {
	if len(r.LifeStages) == 0 {
		return fmt.Errorf("reference data has no life stages")
	}
	if len(r.SurveySpecies) == 0 {
		return fmt.Errorf("reference data has no survey species")
	}
	seen := make(map[int]struct{}, len(r.SurveySpecies))
	for _, sp := range r.SurveySpecies {
		if sp.Name == "" {
			return fmt.Errorf("survey species %d has no name", sp.ID)
		}
		if _, dup := seen[sp.ID]; dup {
			return fmt.Errorf("duplicate survey species id %d", sp.ID)
		}
		seen[sp.ID] = struct{}{}
	}
	if r.SizeClasses.DefaultAreaHa <= 0 {
		return fmt.Errorf("default sampling area must be positive")
	}
	return nil
}

// StageName resolves a life-stage code. Unknown codes are a hard error.
func (r *Reference) StageName(code int) (string, error) {
	name, ok := r.LifeStages[code]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownStageCode, code)
	}
	return name, nil
}

// SpeciesName translates a survey species id. The second return is false
// for ids outside the table; the survey covers more species than the
// simulator models, so this is a benign miss.
func (r *Reference) SpeciesName(id int) (string, bool) {
	for _, sp := range r.SurveySpecies {
		if sp.ID == id {
			return sp.Name, true
		}
	}
	return "", false
}

// SpeciesRank returns the position of a species name in the table's
// declared order, or -1 if absent.
func (r *Reference) SpeciesRank(name string) int {
	for i, sp := range r.SurveySpecies {
		if sp.Name == name {
			return i
		}
	}
	return -1
}

// SizeClassLabel derives the size-class label for a DBH class.
func (r *Reference) SizeClassLabel(dbhClass float64) string {
	if dbhClass == r.SizeClasses.SeedlingClass {
		return r.SizeClasses.SeedlingLabel
	}
	return fmt.Sprintf("s%.1f", dbhClass+r.SizeClasses.LabelOffset)
}

// PlotAreaHa returns the sampling-plot area for a DBH class.
func (r *Reference) PlotAreaHa(dbhClass float64) float64 {
	for _, tier := range r.SizeClasses.AreaTiers {
		if tier.DBHClass == dbhClass {
			return tier.AreaHa
		}
	}
	return r.SizeClasses.DefaultAreaHa
}
