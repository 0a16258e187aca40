package state

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextarea FieldType = "textarea"
	FieldDropdown FieldType = "dropdown"
)

// NotesFieldName is the value forwarded to the status change command as "observaciones".
const NotesFieldName = "observaciones"

var NotesField = FieldSpec{Name: NotesFieldName, Label: "Observaciones", Type: FieldTextarea, Required: false}

type FieldSpec struct {
	Name     string    `json:"name"              yaml:"name"     validate:"required"`
	Label    string    `json:"label"             yaml:"label"    validate:"required"`
	Type     FieldType `json:"type"              yaml:"type"     validate:"oneof=text textarea dropdown"`
	Required bool      `json:"required"          yaml:"required"`
	Options  []string  `json:"options,omitempty" yaml:"options"  validate:"required_if=Type dropdown,dive,required"`
}

type TransitionKey struct {
	From string
	To   string
}

// TransitionFieldTable declares the confirmation fields per (from, to) pair.
type TransitionFieldTable map[TransitionKey][]FieldSpec

func (t TransitionFieldTable) Lookup(from, to string) ([]FieldSpec, bool) {
	specs, found := t[TransitionKey{From: from, To: to}]
	return specs, found
}

type transitionFieldsDocument struct {
	Transitions []transitionFieldsRow `yaml:"transitions" validate:"dive"`
}

type transitionFieldsRow struct {
	From   string      `yaml:"from"   validate:"required"`
	To     string      `yaml:"to"     validate:"required,nefield=From"`
	Fields []FieldSpec `yaml:"fields" validate:"required,dive"`
}

var (
	//go:embed transition_fields.yaml
	defaultTransitionFields []byte

	DefaultTransitionFieldTable = mustLoadTransitionFieldTable(defaultTransitionFields)

	fieldsValidator = validator.New()
)

func LoadTransitionFieldTable(r io.Reader) (TransitionFieldTable, error) {
	doc := transitionFieldsDocument{}
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse transition fields: %w", err)
	}
	if err := fieldsValidator.Struct(&doc); err != nil {
		return nil, fmt.Errorf("invalid transition fields: %w", err)
	}

	table := TransitionFieldTable{}
	for _, row := range doc.Transitions {
		key := TransitionKey{From: row.From, To: row.To}
		if _, found := table[key]; found {
			return nil, fmt.Errorf("duplicated transition fields %s -> %s", row.From, row.To)
		}
		names := map[string]bool{}
		for _, f := range row.Fields {
			if names[f.Name] {
				return nil, fmt.Errorf("duplicated field '%s' in transition %s -> %s", f.Name, row.From, row.To)
			}
			names[f.Name] = true
		}
		table[key] = row.Fields
	}
	return table, nil
}

// LoadTransitionFieldTableFile falls back to the default table when path is empty.
func LoadTransitionFieldTableFile(path string) (TransitionFieldTable, error) {
	if path == "" {
		return DefaultTransitionFieldTable, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadTransitionFieldTable(f)
}

func mustLoadTransitionFieldTable(data []byte) TransitionFieldTable {
	table, err := LoadTransitionFieldTable(bytes.NewReader(data))
	if err != nil {
		panic(err)
	}
	return table
}
