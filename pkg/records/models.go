// Package records turns one patient's cleaned clinical tables into the
// numericalized code/offset sequences and demographics vector used for
// training.
package records

import (
	"errors"
	"fmt"
)

// NoneToken marks a time unit without any recorded event.
const NoneToken = "xxnone"

var (
	ErrInvalidWindow   = errors.New("invalid age window")
	ErrOutOfVocabulary = errors.New("value not in vocabulary")
)

// RecordType enumerates the clinical event tables kept per patient.
type RecordType int

const (
	Observations RecordType = iota
	Allergies
	Careplans
	Medications
	ImagingStudies
	Procedures
	Conditions
	Immunizations
)

// NumRecordTypes is the number of event tables per patient.
const NumRecordTypes = 8

var recordTypeNames = [NumRecordTypes]string{
	"observations",
	"allergies",
	"careplans",
	"medications",
	"imaging_studies",
	"procedures",
	"conditions",
	"immunizations",
}

func (r RecordType) String() string {
	if r < 0 || int(r) >= NumRecordTypes {
		return fmt.Sprintf("record(%d)", int(r))
	}
	return recordTypeNames[r]
}

// AllRecordTypes lists record types in storage order.
func AllRecordTypes() []RecordType {
	types := make([]RecordType, NumRecordTypes)
	for i := range types {
		types[i] = RecordType(i)
	}
	return types
}

type AgeUnit string

const (
	Years  AgeUnit = "years"
	Months AgeUnit = "months"
)

// AgeWindow is the half-open range [Start, Stop) of ages bucketed per patient.
type AgeWindow struct {
	Start int     `yaml:"age_start" json:"age_start"`
	Stop  int     `yaml:"age_stop" json:"age_stop"`
	Unit  AgeUnit `yaml:"age_unit" json:"age_unit"`
}

func (w AgeWindow) Span() int {
	return w.Stop - w.Start
}

func (w AgeWindow) Validate() error {
	if w.Stop <= w.Start {
		return fmt.Errorf("%w: stop %d must be greater than start %d", ErrInvalidWindow, w.Stop, w.Start)
	}
	if w.Unit != Years && w.Unit != Months {
		return fmt.Errorf("%w: unknown age unit %q", ErrInvalidWindow, w.Unit)
	}
	return nil
}

func (w AgeWindow) String() string {
	return fmt.Sprintf("%s_%d_to_%d", w.Unit, w.Start, w.Stop)
}

// Event is one row of a clinical event table.
type Event struct {
	Code      string
	Age       int
	AgeMonths int
}

func (e Event) ageIn(unit AgeUnit) int {
	if unit == Months {
		return e.AgeMonths
	}
	return e.Age
}

// EventTable holds one record type's rows grouped by patient id, in the
// order they were read.
type EventTable map[string][]Event

// Demographic fields in vector order, birthdate first.
const (
	FieldBirthDay = iota
	FieldBirthMonth
	FieldBirthYear
	FieldMarital
	FieldRace
	FieldEthnicity
	FieldGender
	FieldBirthplace
	FieldCity
	FieldState
	FieldZip
	NumDemographicFields
)

// DemographicsRow is the raw static information for one patient. Empty
// strings mean the value is absent.
type DemographicsRow struct {
	Birthdate  string
	Marital    string
	Race       string
	Ethnicity  string
	Gender     string
	Birthplace string
	City       string
	State      string
	Zip        string
	Age        float64
}

// PatientRow is one entry of the cleaned patients table.
type PatientRow struct {
	PatientID  string
	Birthdate  string
	Conditions map[string]int
}

// Tables is everything the cleaning step produced for one split and
// modality group.
type Tables struct {
	Split        string
	Modality     int
	Patients     []PatientRow
	Demographics map[string]DemographicsRow
	Events       [NumRecordTypes]EventTable
}

// Numericalizer maps categorical values to vocabulary indices.
type Numericalizer interface {
	Numericalize(values []string) ([]int64, error)
}

// VocabList bundles every numericalization table plus the global age
// statistics.
type VocabList struct {
	Records      [NumRecordTypes]Numericalizer
	Demographics [NumDemographicFields]Numericalizer
	AgeMean      float64
	AgeStd       float64
}
