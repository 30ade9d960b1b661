package notes

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// requiredColumns are the header names the note-events CSV must carry. Extra
// columns are ignored.
var requiredColumns = []string{"SUBJECT_ID", "HADM_ID", "CHARTTIME", "CATEGORY", "TEXT"}

var chartTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ReadRecords parses the note-events table. Rows with an empty TEXT or
// HADM_ID are dropped; a malformed SUBJECT_ID or HADM_ID fails the read.
// Empty or unparsable CHARTTIME values are kept with HasTime=false.
func ReadRecords(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("input is missing required column %s", name)
		}
	}

	var recs []Record
	for rowNum := 2; ; rowNum++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		text := row[col["TEXT"]]
		hadmField := strings.TrimSpace(row[col["HADM_ID"]])
		if strings.TrimSpace(text) == "" || hadmField == "" {
			continue
		}

		subjectID, err := parseID(row[col["SUBJECT_ID"]])
		if err != nil {
			return nil, fmt.Errorf("row %d: bad SUBJECT_ID: %w", rowNum, err)
		}
		hadmID, err := parseID(hadmField)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad HADM_ID: %w", rowNum, err)
		}
		chartTime, hasTime := parseChartTime(row[col["CHARTTIME"]])

		recs = append(recs, Record{
			SubjectID: subjectID,
			HadmID:    hadmID,
			ChartTime: chartTime,
			HasTime:   hasTime,
			Category:  row[col["CATEGORY"]],
			Text:      text,
		})
	}
	return recs, nil
}

// parseID reads an integer id, accepting the float rendering ("123.0") that
// spreadsheet exports produce.
func parseID(field string) (int, error) {
	s := strings.TrimSpace(field)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer id: %q", field)
	}
	return int(f), nil
}

func parseChartTime(field string) (time.Time, bool) {
	s := strings.TrimSpace(field)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range chartTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FilterRecords applies the category allow-list and boilerplate patterns,
// then normalizes the surviving rows' text. Rows whose text normalizes to
// nothing are dropped rather than carried as zero-length fragments.
func FilterRecords(recs []Record, rules Rules) []Record {
	var kept []Record
	for _, rec := range recs {
		if !rules.keepsCategory(rec.Category) {
			continue
		}
		if rules.dropsText(rec.Text) {
			continue
		}
		rec.Text = CleanText(rec.Text)
		if rec.Text == "" {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

// SortRecords orders rows by patient, admission, then chart time. Rows
// without a timestamp sort after timestamped rows in the same admission;
// exact ties keep their input order.
func SortRecords(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		if a.HadmID != b.HadmID {
			return a.HadmID < b.HadmID
		}
		if a.HasTime != b.HasTime {
			return a.HasTime
		}
		return a.ChartTime.Before(b.ChartTime)
	})
}

// BuildSequences groups sorted records into the two-level container and
// merges short notes within each admission. Records must already be sorted
// with SortRecords.
func BuildSequences(recs []Record, rules Rules) *Sequences {
	seqs := &Sequences{
		Schema:       SchemaTag,
		MinNoteChars: rules.MinNoteChars,
		Patients:     make(map[int]*PatientSequence),
	}

	type admKey struct{ subject, hadm int }
	grouped := make(map[admKey][]string)
	var order []admKey
	for _, rec := range recs {
		key := admKey{rec.SubjectID, rec.HadmID}
		if _, seen := grouped[key]; !seen {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], rec.Text)
	}

	for _, key := range order {
		p, ok := seqs.Patients[key.subject]
		if !ok {
			p = &PatientSequence{}
			seqs.Patients[key.subject] = p
		}
		p.Admissions = append(p.Admissions, Admission{
			HadmID: key.hadm,
			Notes:  mergeShort(grouped[key], rules.MinNoteChars),
		})
	}
	return seqs
}

// mergeShort concatenates notes shorter than minLen onto the next
// long-enough note, space separated. Fragments still buffered at the end of
// the list flush as the admission's final note, so nothing is dropped.
func mergeShort(noteList []string, minLen int) []string {
	var combined []string
	var buf []string
	for _, note := range noteList {
		if utf8.RuneCountInString(note) < minLen {
			buf = append(buf, note)
			continue
		}
		if len(buf) > 0 {
			buf = append(buf, note)
			note = strings.Join(buf, " ")
			buf = buf[:0]
		}
		combined = append(combined, note)
	}
	if len(buf) > 0 {
		combined = append(combined, strings.Join(buf, " "))
	}
	return combined
}
