// Package notes cleans free-text clinical note events and groups them into
// per-patient, per-admission chronological note sequences for model input.
package notes

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// SchemaTag identifies the serialized note-sequence format.
const SchemaTag = "clinprep/note-sequences/v1"

// Record is one row of the note-events table.
type Record struct {
	SubjectID int
	HadmID    int
	ChartTime time.Time
	// HasTime is false when CHARTTIME was empty or unparsable; such rows
	// sort after timestamped rows within the same admission.
	HasTime  bool
	Category string
	Text     string
}

// Admission is one hospital stay with its merged notes in chronological order.
type Admission struct {
	HadmID int      `json:"hadmId"`
	Notes  []string `json:"notes"`
}

// PatientSequence holds a patient's admissions in ascending admission-id order.
type PatientSequence struct {
	Admissions []Admission `json:"admissions"`
}

// Sequences is the two-level note-sequence container: patient id → ordered
// admissions → ordered merged notes. It serializes to a single JSON document:
//
//	{
//	  "schema": "clinprep/note-sequences/v1",
//	  "minNoteChars": 40,
//	  "patients": {
//	    "10026": {"admissions": [{"hadmId": 147061, "notes": ["..."]}]}
//	  }
//	}
type Sequences struct {
	Schema       string                   `json:"schema"`
	MinNoteChars int                      `json:"minNoteChars"`
	Patients     map[int]*PatientSequence `json:"patients"`
}

// Save writes the container as indented JSON, creating parent directories.
func (s *Sequences) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal note sequences: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Load reads a serialized container and validates its schema tag and shape.
func Load(path string) (*Sequences, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read note sequences: %w", err)
	}
	var s Sequences
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse note sequences: %w", err)
	}
	if s.Schema != SchemaTag {
		return nil, fmt.Errorf("unsupported note-sequence schema %q (want %q)", s.Schema, SchemaTag)
	}
	if s.MinNoteChars <= 0 {
		return nil, fmt.Errorf("invalid minNoteChars %d in %s", s.MinNoteChars, path)
	}
	if s.Patients == nil {
		s.Patients = make(map[int]*PatientSequence)
	}
	for id, p := range s.Patients {
		if p == nil {
			return nil, fmt.Errorf("patient %d has no admission list", id)
		}
		for i := range p.Admissions {
			if p.Admissions[i].Notes == nil {
				p.Admissions[i].Notes = []string{}
			}
		}
	}
	return &s, nil
}

// Stats summarizes a note-sequence corpus the way the aggregator reports it
// after a run.
type Stats struct {
	Patients        int
	MeanAdmissions  float64
	MeanNotes       float64
	P95Notes        float64
	MaxNotes        int
	TotalNotes      int
	TotalAdmissions int
}

func (s *Sequences) Stats() Stats {
	st := Stats{Patients: len(s.Patients)}

	var noteCounts []float64
	for _, p := range s.Patients {
		st.TotalAdmissions += len(p.Admissions)
		for _, adm := range p.Admissions {
			noteCounts = append(noteCounts, float64(len(adm.Notes)))
			st.TotalNotes += len(adm.Notes)
		}
	}
	if st.Patients > 0 {
		st.MeanAdmissions = float64(st.TotalAdmissions) / float64(st.Patients)
	}
	if len(noteCounts) > 0 {
		var sum float64
		st.MaxNotes = int(noteCounts[0])
		for _, c := range noteCounts {
			sum += c
			if int(c) > st.MaxNotes {
				st.MaxNotes = int(c)
			}
		}
		st.MeanNotes = sum / float64(len(noteCounts))
		st.P95Notes = percentile(noteCounts, 95)
	}
	return st
}

// percentile computes the p-th percentile with linear interpolation over the
// sorted values.
func percentile(vals []float64, p float64) float64 {
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
