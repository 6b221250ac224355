package core

// validation.go provides pre-flight structure validation for sensor and
// measurement CSVs.
//
// Validation happens at two levels:
//  1. Header validation: Ensures required columns are present
//  2. Row validation: Checks each cell against its FieldSpec (presence, numeric range)
//
// All row problems are collected and reported together in one
// *ValidationError. The remote endpoint validates authoritatively; this pass
// only catches problems before any request is made.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// maxReportedProblems caps how many row problems are spelled out in a message.
const maxReportedProblems = 50

const bomRune = "\ufeff"

var sensorSpecs = []FieldSpec{
	{Name: "alias", Required: true},
	{Name: "variablename", Required: true},
	{Name: "units", Required: true},
	{Name: "postprocess", AllowEmpty: true},
	{Name: "postprocessscript", AllowEmpty: true},
}

var measurementSpecs = []FieldSpec{
	{Name: "collectiontime", Required: true, AllowEmpty: true},
	{Name: "Lat_deg", Label: "Latitude", Type: FieldNumeric, Required: true, Min: -90, Max: 90},
	{Name: "Lon_deg", Label: "Longitude", Type: FieldNumeric, Required: true, Min: -180, Max: 180},
}

// HeaderSpecFor returns the column rules for role, or nil for an unknown role.
func HeaderSpecFor(role Role) []FieldSpec {
	switch role {
	case RoleSensors:
		return sensorSpecs
	case RoleMeasurements:
		return measurementSpecs
	default:
		return nil
	}
}

// ValidationSummary is the result of a successful validation.
type ValidationSummary struct {
	Valid   bool
	Count   int
	Message string
}

// RowError is a single problem found in one data row.
type RowError struct {
	Row     int // 1-based data row
	Field   string
	Message string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("Row %d: %s", e.Row, e.Message)
}

// ValidateRows checks already parsed rows against the rules for role. Keys
// carrying a leading byte-order mark are matched as if it were absent.
func ValidateRows(rows []map[string]string, role Role) (ValidationSummary, error) {
	rv, err := newRowValidator(role)
	if err != nil {
		return ValidationSummary{}, err
	}
	for _, row := range rows {
		rv.check(normalizeKeys(row))
	}
	return rv.result()
}

// ValidateFile decodes, parses and validates a resolved CSV file.
func ValidateFile(file TabularFile) (ValidationSummary, error) {
	rv, err := newRowValidator(file.Role)
	if err != nil {
		return ValidationSummary{}, err
	}
	if _, err := file.Text(); err != nil {
		return ValidationSummary{}, err
	}

	r := csv.NewReader(NewBOMSkippingReader(bytes.NewReader(normalizeLineEnds(file.Raw))))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err == io.EOF {
		return rv.result()
	}
	if err != nil {
		return ValidationSummary{}, csvError(file.Role, err)
	}
	header = append([]string(nil), header...)

	if _, err := ValidateHeaders(header, rv.specs); err != nil {
		return ValidationSummary{}, err
	}

	row := make(map[string]string, len(header))
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ValidationSummary{}, csvError(file.Role, err)
		}

		clear(row)
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			}
		}
		rv.check(row)
	}

	return rv.result()
}

// ValidateHeaders validates that all required columns exist in the CSV headers.
// Returns a mapping from column name to index, or an error listing missing columns.
func ValidateHeaders(headers []string, specs []FieldSpec) (HeaderIndex, error) {
	idx := make(HeaderIndex, len(headers))
	for i, h := range headers {
		h = strings.TrimPrefix(h, bomRune)
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}

	var missing []string
	for _, spec := range specs {
		if spec.Required {
			if _, ok := idx[spec.Name]; !ok {
				missing = append(missing, spec.Name)
			}
		}
	}

	if len(missing) > 0 {
		return nil, &ValidationError{
			Field:   missing[0],
			Message: fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")),
		}
	}

	return idx, nil
}

// rowValidator accumulates problems across rows.
type rowValidator struct {
	role     Role
	specs    []FieldSpec
	rows     int
	problems *multierror.Error
	reported int
	first    *RowError
	extra    int
}

func newRowValidator(role Role) (*rowValidator, error) {
	specs := HeaderSpecFor(role)
	if specs == nil {
		return nil, &ValidationError{Field: "role", Message: fmt.Sprintf("unknown file type: %q", role)}
	}
	return &rowValidator{role: role, specs: specs}, nil
}

func (v *rowValidator) check(row map[string]string) {
	v.rows++
	for _, spec := range v.specs {
		if msg := checkCell(row, spec, v.role); msg != "" {
			v.add(&RowError{Row: v.rows, Field: spec.Name, Message: msg})
		}
	}
}

func (v *rowValidator) add(e *RowError) {
	if v.first == nil {
		v.first = e
	}
	if v.reported >= maxReportedProblems {
		v.extra++
		return
	}
	v.reported++
	v.problems = multierror.Append(v.problems, e)
}

func (v *rowValidator) result() (ValidationSummary, error) {
	noun := strings.TrimSuffix(string(v.role), "s")
	if v.first == nil {
		return ValidationSummary{
			Valid:   true,
			Count:   v.rows,
			Message: fmt.Sprintf("Validated %d %s", v.rows, v.role),
		}, nil
	}

	v.problems.ErrorFormat = joinProblems
	msg := fmt.Sprintf("%s data validation failed: %s", noun, v.problems.Error())
	if v.extra > 0 {
		msg += fmt.Sprintf(" (and %d more)", v.extra)
	}

	return ValidationSummary{Count: v.rows}, &ValidationError{
		Field:   v.first.Field,
		Row:     v.first.Row,
		Message: msg,
		Err:     v.problems.ErrorOrNil(),
	}
}

func joinProblems(errs []error) string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

// checkCell returns a problem description for one cell, or "".
func checkCell(row map[string]string, spec FieldSpec, role Role) string {
	raw, present := row[spec.Name]
	if !present {
		if spec.Required {
			return fmt.Sprintf("Missing required field '%s'", spec.Name)
		}
		return ""
	}

	// Sensor metadata must be filled in; measurement columns only need to exist.
	if role == RoleSensors && spec.Required && !spec.AllowEmpty && raw == "" {
		return fmt.Sprintf("Missing required field '%s'", spec.Name)
	}

	if spec.Type == FieldNumeric {
		return checkRange(raw, spec)
	}
	return ""
}

func checkRange(raw string, spec FieldSpec) string {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Sprintf("Invalid %s value", strings.ToLower(spec.Label))
	}
	if math.IsNaN(f) || f < spec.Min || f > spec.Max {
		return fmt.Sprintf("%s must be between %s and %s", spec.Label, formatBound(spec.Min), formatBound(spec.Max))
	}
	return ""
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// normalizeKeys strips a byte-order mark that leaked into a column name.
func normalizeKeys(row map[string]string) map[string]string {
	var needs bool
	for k := range row {
		if strings.HasPrefix(k, bomRune) {
			needs = true
			break
		}
	}
	if !needs {
		return row
	}

	out := make(map[string]string, len(row))
	for k, val := range row {
		out[strings.TrimPrefix(k, bomRune)] = val
	}
	return out
}

func csvError(role Role, err error) error {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return &ValidationError{
			Row:     max(perr.StartLine-1, 0),
			Message: fmt.Sprintf("malformed %s CSV at line %d: %v", role, perr.StartLine, perr.Err),
			Err:     err,
		}
	}
	return fmt.Errorf("reading %s CSV: %w", role, err)
}
