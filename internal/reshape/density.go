package reshape

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/forest-reshaper/backend/internal/models"
	"github.com/forest-reshaper/backend/internal/refdata"
)

// DefaultAliveStatus is the survey status id meaning a living stem.
const DefaultAliveStatus = 1

// DensityBuilder aggregates field-survey stem counts into the nested
// initial-density list a parameter document embeds.
type DensityBuilder struct {
	ref         *refdata.Reference
	aliveStatus int
}

// NewDensityBuilder creates a builder. aliveStatus <= 0 selects the
// default living-stem status id.
func NewDensityBuilder(ref *refdata.Reference, aliveStatus int) *DensityBuilder {
	if aliveStatus <= 0 {
		aliveStatus = DefaultAliveStatus
	}
	return &DensityBuilder{ref: ref, aliveStatus: aliveStatus}
}

// BuildFromFile builds the density list from a survey CSV file.
func (b *DensityBuilder) BuildFromFile(plotID string, year int, filePath string) (*models.DensityList, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return b.Build(plotID, year, file)
}

// Build filters the survey to living stems of one plot and year,
// translates species ids through the survey-species table (unknown ids are
// silently dropped, the survey covers more species than the simulator
// models), and produces one density entry per surviving row, ordered by
// the table's species order then DBH class ascending.
func (b *DensityBuilder) Build(plotID string, year int, in io.Reader) (*models.DensityList, error) {
	records, err := b.readSurvey(in)
	if err != nil {
		return nil, err
	}

	type entry struct {
		species  string
		rank     int
		dbhClass float64
		count    int
	}
	entries := make([]entry, 0)
	for _, rec := range records {
		if rec.PlotID != plotID || rec.Year != year || rec.StatusID != b.aliveStatus {
			continue
		}
		name, ok := b.ref.SpeciesName(rec.SpeciesID)
		if !ok {
			continue
		}
		entries = append(entries, entry{
			species:  name,
			rank:     b.ref.SpeciesRank(name),
			dbhClass: rec.DBHClass,
			count:    rec.Count,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].rank != entries[j].rank {
			return entries[i].rank < entries[j].rank
		}
		return entries[i].dbhClass < entries[j].dbhClass
	})

	list := &models.DensityList{Groups: make([]models.SpeciesDensity, 0)}
	for _, e := range entries {
		area := b.ref.PlotAreaHa(e.dbhClass)
		density := math.Round(float64(e.count) / area)
		class := models.SizeClassDensity{
			SizeClass: b.ref.SizeClassLabel(e.dbhClass),
			Density:   fmt.Sprintf("%.1f", density),
		}
		n := len(list.Groups)
		if n == 0 || list.Groups[n-1].Species != e.species {
			list.Groups = append(list.Groups, models.SpeciesDensity{Species: e.species})
			n++
		}
		list.Groups[n-1].Classes = append(list.Groups[n-1].Classes, class)
	}
	return list, nil
}

// readSurvey parses the fixed 6-column survey schema
// (plot_id, year, species_id, status_id, dbh_class, count). A leading
// header row is tolerated; any other malformed row is fatal.
func (b *DensityBuilder) readSurvey(in io.Reader) ([]models.SurveyRecord, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = 6
	reader.TrimLeadingSpace = true

	records := make([]models.SurveyRecord, 0)
	line := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading survey: %w", err)
		}
		line++

		rec, perr := parseSurveyRow(row)
		if perr != nil {
			if line == 1 {
				// Header row.
				continue
			}
			return nil, fmt.Errorf("survey line %d: %w", line, perr)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseSurveyRow(row []string) (models.SurveyRecord, error) {
	year, err := strconv.Atoi(strings.TrimSpace(row[1]))
	if err != nil {
		return models.SurveyRecord{}, fmt.Errorf("year %q is not an integer", row[1])
	}
	speciesID, err := strconv.Atoi(strings.TrimSpace(row[2]))
	if err != nil {
		return models.SurveyRecord{}, fmt.Errorf("species_id %q is not an integer", row[2])
	}
	statusID, err := strconv.Atoi(strings.TrimSpace(row[3]))
	if err != nil {
		return models.SurveyRecord{}, fmt.Errorf("status_id %q is not an integer", row[3])
	}
	dbhClass, err := strconv.ParseFloat(strings.TrimSpace(row[4]), 64)
	if err != nil {
		return models.SurveyRecord{}, fmt.Errorf("dbh_class %q is not a number", row[4])
	}
	count, err := strconv.Atoi(strings.TrimSpace(row[5]))
	if err != nil {
		return models.SurveyRecord{}, fmt.Errorf("count %q is not an integer", row[5])
	}
	return models.SurveyRecord{
		PlotID:    strings.TrimSpace(row[0]),
		Year:      year,
		SpeciesID: speciesID,
		StatusID:  statusID,
		DBHClass:  dbhClass,
		Count:     count,
	}, nil
}
