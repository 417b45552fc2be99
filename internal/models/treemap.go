package models

// ValueKind is the storage kind of a tree-map variable.
type ValueKind string

const (
	ValueKindInt   ValueKind = "int"
	ValueKindFloat ValueKind = "fl"
)

// TreeValue is one raw (kind, code, value) triple attached to a tree
// before the code is decoded against the settings dictionary.
type TreeValue struct {
	Kind ValueKind
	Code int
	Raw  string
}

// TreeRecord is one simulated tree as it appears in a detailed-output
// document. ID is assigned by document order, 0-based.
type TreeRecord struct {
	ID          int
	SpeciesCode int
	StageCode   int
	Values      []TreeValue
}

// CodeKey identifies one entry of the variable-code dictionary. Species is
// the display name because settings sections are declared per species name,
// while trees reference the positional species code.
type CodeKey struct {
	Species string
	Stage   int
	Kind    ValueKind
	Code    int
}
