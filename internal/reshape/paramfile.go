package reshape

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/beevik/etree"
	"github.com/forest-reshaper/backend/internal/models"
)

// DefaultSurveyYear is the survey year initial densities are drawn from.
const DefaultSurveyYear = 1991

// Structural positions edited inside a parameter template. The template
// carries hundreds of unrelated fields that must pass through untouched,
// so the document is edited in place rather than modeled as structs.
const (
	pathDensities   = "//tr_initialDensities"
	pathTimesteps   = "//timesteps"
	pathTarOutput   = "//ou_filename"
	pathShortOutput = "//so_filename"
)

// ParamFileEditor rewrites a parameter template for one plot: fresh
// initial densities from the survey, timestep count, and plot-derived
// output file names.
type ParamFileEditor struct {
	builder    *DensityBuilder
	surveyYear int
}

// NewParamFileEditor creates an editor. surveyYear <= 0 selects the
// default survey year.
func NewParamFileEditor(builder *DensityBuilder, surveyYear int) *ParamFileEditor {
	if surveyYear <= 0 {
		surveyYear = DefaultSurveyYear
	}
	return &ParamFileEditor{builder: builder, surveyYear: surveyYear}
}

// Generate builds the density list for the plot, splices it into the
// template, rewrites the timestep and output-path scalars, and writes the
// result as "F<slug>_no_epi.xml" under workDir. outDir is passed through
// into the document verbatim (it may name a path on another machine) and
// is never validated. Returns the path of the written file.
func (e *ParamFileEditor) Generate(plotID string, timesteps int, templatePath, surveyPath, outDir, workDir string) (string, error) {
	densities, err := e.builder.BuildFromFile(plotID, e.surveyYear, surveyPath)
	if err != nil {
		return "", fmt.Errorf("building densities for plot %q: %w", plotID, err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromFile(templatePath); err != nil {
		return "", fmt.Errorf("reading template: %w", err)
	}

	slug := plotSlug(plotID)
	if err := applyEdits(doc, densities, timesteps, outDir, slug); err != nil {
		return "", err
	}

	outPath := filepath.Join(workDir, "F"+slug+"_no_epi.xml")
	doc.Indent(2)
	if err := doc.WriteToFile(outPath); err != nil {
		return "", fmt.Errorf("writing parameter file: %w", err)
	}
	return outPath, nil
}

// applyEdits performs the three in-place document edits. A template
// missing any target position is a fatal schema violation.
func applyEdits(doc *etree.Document, densities *models.DensityList, timesteps int, outDir, slug string) error {
	densityEl := doc.FindElement(pathDensities)
	if densityEl == nil {
		return fmt.Errorf("template has no initial-densities section (%s)", pathDensities)
	}
	for _, child := range densityEl.ChildElements() {
		densityEl.RemoveChild(child)
	}
	for _, group := range densities.Groups {
		groupEl := densityEl.CreateElement("tr_idVals")
		groupEl.CreateAttr("whatSpecies", group.Species)
		for _, class := range group.Classes {
			classEl := groupEl.CreateElement("tr_initialDensity")
			classEl.CreateAttr("sizeClass", class.SizeClass)
			classEl.SetText(class.Density)
		}
	}

	timestepsEl := doc.FindElement(pathTimesteps)
	if timestepsEl == nil {
		return fmt.Errorf("template has no timesteps scalar (%s)", pathTimesteps)
	}
	timestepsEl.SetText(strconv.Itoa(timesteps))

	tarEl := doc.FindElement(pathTarOutput)
	if tarEl == nil {
		return fmt.Errorf("template has no detailed-output path (%s)", pathTarOutput)
	}
	tarEl.SetText(fmt.Sprintf("%s/F%s.gz.tar", outDir, slug))

	shortEl := doc.FindElement(pathShortOutput)
	if shortEl == nil {
		return fmt.Errorf("template has no summary-output path (%s)", pathShortOutput)
	}
	shortEl.SetText(fmt.Sprintf("%s/F%s.out", outDir, slug))

	return nil
}

// plotSlug strips a plot id down to its alphanumeric characters for use
// in file names.
func plotSlug(plotID string) string {
	out := make([]byte, 0, len(plotID))
	for i := 0; i < len(plotID); i++ {
		c := plotID[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			out = append(out, c)
		}
	}
	return string(out)
}
