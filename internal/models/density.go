package models

// SurveyRecord is one row of the field-survey stem-count table.
type SurveyRecord struct {
	PlotID    string
	Year      int
	SpeciesID int
	StatusID  int
	DBHClass  float64
	Count     int
}

// SizeClassDensity is one size-class entry of the initial density list:
// a size-class label and a stems/hectare value formatted with one
// fractional digit (the parameter-file convention).
type SizeClassDensity struct {
	SizeClass string `json:"sizeClass"`
	Density   string `json:"density"`
}

// SpeciesDensity groups the size-class densities of one species.
type SpeciesDensity struct {
	Species string             `json:"species"`
	Classes []SizeClassDensity `json:"classes"`
}

// DensityList is the nested initial-density structure spliced into a
// parameter document. Group order follows the survey-species table's
// declared order; the target format is positional, so this order matters.
type DensityList struct {
	Groups []SpeciesDensity `json:"groups"`
}
