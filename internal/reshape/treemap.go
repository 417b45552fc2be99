package reshape

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/forest-reshaper/backend/internal/models"
	"github.com/forest-reshaper/backend/internal/refdata"
	"github.com/forest-reshaper/backend/internal/table"
)

// Table column names shared by every per-stage tree table.
const (
	colTreeID  = "tree_id"
	colSpecies = "species"
)

// TreeMapExtractor flattens one detailed-output document into one table
// per life stage: rows are individual trees, columns are the variable
// labels decoded through the document's own code dictionaries.
type TreeMapExtractor struct {
	ref *refdata.Reference
}

// NewTreeMapExtractor creates an extractor joining against the given
// reference tables.
func NewTreeMapExtractor(ref *refdata.Reference) *TreeMapExtractor {
	return &TreeMapExtractor{ref: ref}
}

// Typed document model. Attributes are kept as strings so a missing
// attribute is distinguishable from a zero and fails fast.

type documentXML struct {
	XMLName xml.Name
	TreeMap *treeMapXML `xml:"treemap"`
}

type treeMapXML struct {
	SpeciesList *speciesListXML `xml:"speciesList"`
	Settings    []settingsXML   `xml:"treeSettings"`
	Trees       []treeXML       `xml:"tree"`
}

type speciesListXML struct {
	Species []speciesXML `xml:"species"`
}

type speciesXML struct {
	Name string `xml:"speciesName,attr"`
}

type settingsXML struct {
	Species   string        `xml:"sp,attr"`
	Stage     string        `xml:"tp,attr"`
	CodeLists []codeListXML `xml:",any"`
}

type codeListXML struct {
	XMLName xml.Name
	Codes   []codeXML `xml:"code"`
}

type codeXML struct {
	Label string `xml:"label,attr"`
	Value string `xml:",chardata"`
}

type treeXML struct {
	Species string        `xml:"sp,attr"`
	Stage   string        `xml:"tp,attr"`
	Values  []treeValueXML `xml:",any"`
}

type treeValueXML struct {
	XMLName xml.Name
	Code    string `xml:"c,attr"`
	Value   string `xml:",chardata"`
}

// Extract reads and flattens a detailed-output document.
func (e *TreeMapExtractor) Extract(filePath string) (map[string]*table.Table, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return e.ExtractFromReader(file)
}

// ExtractFromReader flattens a detailed-output document from an io.Reader.
// Every join (tree -> species registry -> stage registry -> code
// dictionary) is strict: one miss aborts the whole extraction.
func (e *TreeMapExtractor) ExtractFromReader(in io.Reader) (map[string]*table.Table, error) {
	var doc documentXML
	if err := xml.NewDecoder(in).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing detailed-output document: %w", err)
	}
	if doc.TreeMap == nil {
		return nil, fmt.Errorf("document has no treemap section")
	}

	species, err := buildSpeciesRegistry(doc.TreeMap.SpeciesList)
	if err != nil {
		return nil, err
	}
	settings, err := buildCodeDictionary(doc.TreeMap.Settings)
	if err != nil {
		return nil, err
	}
	trees, err := buildTreeRecords(doc.TreeMap.Trees)
	if err != nil {
		return nil, err
	}

	// Join and project, grouping long-form records per stage.
	stageRecords := make(map[string][]table.Record)
	stageOrder := make([]string, 0)
	for _, tree := range trees {
		if tree.SpeciesCode < 0 || tree.SpeciesCode >= len(species) {
			return nil, fmt.Errorf("tree %d references undeclared species code %d", tree.ID, tree.SpeciesCode)
		}
		speciesName := species[tree.SpeciesCode]
		stageName, err := e.ref.StageName(tree.StageCode)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", tree.ID, err)
		}

		if _, ok := stageRecords[stageName]; !ok {
			stageOrder = append(stageOrder, stageName)
		}
		for _, v := range tree.Values {
			label, ok := settings[models.CodeKey{Species: speciesName, Stage: tree.StageCode, Kind: v.Kind, Code: v.Code}]
			if !ok {
				return nil, fmt.Errorf("tree %d: no settings entry for species %q stage %d kind %s code %d",
					tree.ID, speciesName, tree.StageCode, v.Kind, v.Code)
			}
			value, err := parseTreeValue(v.Kind, v.Raw)
			if err != nil {
				return nil, fmt.Errorf("tree %d, variable %q: %w", tree.ID, label, err)
			}
			stageRecords[stageName] = append(stageRecords[stageName], table.Record{
				Key:   []any{tree.ID, speciesName},
				Name:  label,
				Value: value,
			})
		}
	}

	result := make(map[string]*table.Table, len(stageOrder))
	for _, stage := range stageOrder {
		t, err := table.Pivot([]string{colTreeID, colSpecies}, stageRecords[stage])
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", stage, err)
		}
		result[stage] = t
	}
	return result, nil
}

// buildSpeciesRegistry maps the 0-based position of each species-list
// entry to its declared name.
func buildSpeciesRegistry(list *speciesListXML) ([]string, error) {
	if list == nil || len(list.Species) == 0 {
		return nil, fmt.Errorf("treemap has no species list")
	}
	names := make([]string, 0, len(list.Species))
	for i, sp := range list.Species {
		if sp.Name == "" {
			return nil, fmt.Errorf("species list entry %d has no speciesName attribute", i)
		}
		names = append(names, sp.Name)
	}
	return names, nil
}

// buildCodeDictionary flattens the per-(species, stage) settings sections
// into one (species, stage, kind, code) -> label dictionary.
func buildCodeDictionary(sections []settingsXML) (map[models.CodeKey]string, error) {
	dict := make(map[models.CodeKey]string)
	for _, s := range sections {
		if s.Species == "" {
			return nil, fmt.Errorf("treeSettings section has no sp attribute")
		}
		stage, err := requiredInt(s.Stage, "treeSettings tp")
		if err != nil {
			return nil, err
		}
		for _, list := range s.CodeLists {
			kind, err := normalizeKind(list.XMLName.Local)
			if err != nil {
				return nil, fmt.Errorf("treeSettings %q stage %d: %w", s.Species, stage, err)
			}
			for _, c := range list.Codes {
				if c.Label == "" {
					return nil, fmt.Errorf("code list %q in settings for %q has an entry without a label", list.XMLName.Local, s.Species)
				}
				code, err := requiredInt(strings.TrimSpace(c.Value), "code value")
				if err != nil {
					return nil, err
				}
				key := models.CodeKey{Species: s.Species, Stage: stage, Kind: kind, Code: code}
				if _, dup := dict[key]; dup {
					return nil, fmt.Errorf("duplicate code %d (%s) for species %q stage %d", code, kind, s.Species, stage)
				}
				dict[key] = c.Label
			}
		}
	}
	return dict, nil
}

// buildTreeRecords extracts the flat tree list; document order assigns ids.
func buildTreeRecords(trees []treeXML) ([]models.TreeRecord, error) {
	records := make([]models.TreeRecord, 0, len(trees))
	for i, t := range trees {
		spCode, err := requiredInt(t.Species, fmt.Sprintf("tree %d sp", i))
		if err != nil {
			return nil, err
		}
		stageCode, err := requiredInt(t.Stage, fmt.Sprintf("tree %d tp", i))
		if err != nil {
			return nil, err
		}
		rec := models.TreeRecord{ID: i, SpeciesCode: spCode, StageCode: stageCode}
		for _, v := range t.Values {
			kind, err := normalizeKind(v.XMLName.Local)
			if err != nil {
				return nil, fmt.Errorf("tree %d: %w", i, err)
			}
			code, err := requiredInt(v.Code, fmt.Sprintf("tree %d value c", i))
			if err != nil {
				return nil, err
			}
			rec.Values = append(rec.Values, models.TreeValue{Kind: kind, Code: code, Raw: strings.TrimSpace(v.Value)})
		}
		records = append(records, rec)
	}
	return records, nil
}

// normalizeKind maps a raw kind tag to the canonical value kinds by
// substring: "intCodes", "int" -> int; "floatCodes", "fl" -> fl.
func normalizeKind(tag string) (models.ValueKind, error) {
	switch {
	case strings.Contains(tag, "int"):
		return models.ValueKindInt, nil
	case strings.Contains(tag, "fl"):
		return models.ValueKindFloat, nil
	}
	return "", fmt.Errorf("unrecognized value-kind tag %q", tag)
}

func parseTreeValue(kind models.ValueKind, raw string) (any, error) {
	switch kind {
	case models.ValueKindInt:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("value %q is not an integer", raw)
		}
		return v, nil
	default:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not a float", raw)
		}
		return v, nil
	}
}

// requiredInt parses a required integer attribute, treating absence as a
// schema violation rather than a zero.
func requiredInt(raw, what string) (int, error) {
	if raw == "" {
		return 0, fmt.Errorf("missing required attribute: %s", what)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %q is not an integer", what, raw)
	}
	return v, nil
}
