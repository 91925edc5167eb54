package contributions

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// File names inside the data directory.
const (
	IndividualFile = "individual_contributions.csv"
	PACFile        = "pac_contributions.csv"
)

var (
	// IndividualHeader is the header row of IndividualFile.
	IndividualHeader = []string{"candidate_id", "candidate_name", "contributor_name", "amount", "date", "city", "state", "employer", "occupation"}
	// PACHeader is the header row of PACFile.
	PACHeader = []string{"candidate_id", "candidate_name", "contributor_name", "amount", "date", "city", "state", "committee_id"}
)

// Header returns the header row for a bucket.
func Header(kind Kind) []string {
	if kind == KindIndividual {
		return IndividualHeader
	}
	return PACHeader
}

// FileName returns the CSV file name for a bucket.
func FileName(kind Kind) string {
	if kind == KindIndividual {
		return IndividualFile
	}
	return PACFile
}

// FormatAmount renders an amount the way it is stored in the CSVs.
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// Row encodes a record as CSV fields for its bucket.
func Row(r Record) []string {
	row := []string{
		r.CandidateID,
		r.CandidateName,
		r.ContributorName,
		FormatAmount(r.Amount),
		r.Date,
		r.City,
		r.State,
	}
	if r.Kind == KindIndividual {
		return append(row, r.Employer, r.Occupation)
	}
	return append(row, r.CommitteeID)
}

// ParseRow decodes CSV fields into a record. Missing trailing fields are
// treated as empty; an unparseable amount is an error.
func ParseRow(kind Kind, row []string) (Record, error) {
	var amount float64
	if s := strings.TrimSpace(field(row, 3)); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Record{}, fmt.Errorf("invalid amount %q: %w", s, err)
		}
		amount = v
	}

	r := Record{
		CandidateID:     strings.TrimSpace(field(row, 0)),
		CandidateName:   field(row, 1),
		ContributorName: field(row, 2),
		Amount:          amount,
		Date:            field(row, 4),
		City:            field(row, 5),
		State:           field(row, 6),
		Kind:            kind,
	}
	if kind == KindIndividual {
		r.Employer = field(row, 7)
		r.Occupation = field(row, 8)
	} else {
		r.CommitteeID = field(row, 7)
	}
	return r, nil
}

// field returns row[i], or "" when the row is short.
func field(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// ReadFile reads every data row of a contribution CSV. A missing file yields
// no rows and no error.
func ReadFile(path string, kind Kind) ([]Record, error) {
	var records []Record
	err := scanFile(path, func(row []string) error {
		rec, err := ParseRow(kind, row)
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	return records, err
}

// scanFile calls fn for each data row after the header.
func scanFile(path string, fn func(row []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	cr := newReader(f)
	first := true
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if first {
			first = false
			continue
		}
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		if err := fn(row); err != nil {
			return fmt.Errorf("%s line %d: %w", path, lineOf(cr), err)
		}
	}
}

func lineOf(cr *csv.Reader) int {
	line, _ := cr.FieldPos(0)
	return line
}

// WriteFile writes a complete contribution CSV, header included.
func WriteFile(path string, kind Kind, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header(kind)); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write header to %s: %w", path, err)
	}
	for _, r := range records {
		r.Kind = kind
		if err := w.Write(Row(r)); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return f.Close()
}
