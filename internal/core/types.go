package core

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Role identifies what a CSV table represents and selects its rules.
type Role string

const (
	RoleSensors      Role = "sensors"
	RoleMeasurements Role = "measurements"
)

// DefaultName is the file name used when raw bytes arrive without one.
func (r Role) DefaultName() string {
	return string(r) + ".csv"
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleSensors || r == RoleMeasurements
}

// ParseRole converts a user supplied string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", &ValidationError{
			Field:   "role",
			Message: "role must be one of: sensors, measurements",
		}
	}
	return r, nil
}

// TabularFile is one resolved CSV document. Raw is never modified after
// resolution; decoding happens on demand.
type TabularFile struct {
	Name string
	Role Role
	Raw  []byte
}

// Text decodes Raw as UTF-8. Invalid input yields an *EncodingError naming
// the file's role.
func (f TabularFile) Text() (string, error) {
	if !utf8.Valid(f.Raw) {
		return "", &EncodingError{Role: f.Role, Name: f.Name, Offset: firstInvalidUTF8(f.Raw)}
	}
	return string(f.Raw), nil
}

// Size returns the raw byte length.
func (f TabularFile) Size() int64 {
	return int64(len(f.Raw))
}

// stemExt splits the base name into stem and extension ("m.csv" -> "m", ".csv").
func (f TabularFile) stemExt() (string, string) {
	base := filepath.Base(f.Name)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext), ext
}

func firstInvalidUTF8(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(b)
}

// FieldType represents the expected data type for a CSV field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldNumeric
)

// FieldSpec defines the rules for a single CSV column.
type FieldSpec struct {
	Name       string    // Column header name (must match CSV exactly)
	Label      string    // Name used in range messages, e.g. "Latitude"
	Type       FieldType // Expected data type
	Required   bool      // Column must exist in the header
	AllowEmpty bool      // Empty cells pass even when Required
	Min, Max   float64   // Inclusive bounds for FieldNumeric
}

// HeaderIndex maps column names to their position in the CSV row.
type HeaderIndex map[string]int

// Chunk is one header-prefixed slice of a measurement file.
type Chunk struct {
	Name        string // {stem}_{index}{ext}
	Data        []byte // Header line followed by this chunk's records
	Index       int    // 1-based
	Rows        int    // Data records in this chunk
	Fingerprint uint64 // xxhash of Data
}

// EmptyChunk is the sole element returned for a measurement file with no data
// rows. It signals that there is nothing to upload.
var EmptyChunk = Chunk{}

// IsEmpty reports whether c is the no-data sentinel.
func (c Chunk) IsEmpty() bool {
	return c.Name == "" && len(c.Data) == 0
}

// Payload is one named file part of an ingestion request.
type Payload struct {
	Name string
	Data []byte
}

// IngestRequest is a single call to the ingestion endpoint: the full sensor
// file plus one measurement chunk, scoped to a campaign and station.
type IngestRequest struct {
	CampaignID   int
	StationID    int
	Sensors      Payload
	Measurements Payload
}

// IngestResponse is the success payload returned by the ingestion endpoint.
type IngestResponse struct {
	StatusCode int
	Body       json.RawMessage
}

// Get extracts a value from the response body using a gjson path.
func (r *IngestResponse) Get(path string) gjson.Result {
	if r == nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(r.Body, path)
}

// Ingestor submits ingestion requests. Implemented by the API client.
type Ingestor interface {
	UploadCSV(ctx context.Context, req IngestRequest) (*IngestResponse, error)
}

// ChunkResult is the outcome of one chunk's submission.
type ChunkResult struct {
	Index       int
	Name        string
	Rows        int
	Bytes       int
	Fingerprint uint64
	Response    *IngestResponse // nil on failure
	Err         error           // nil on success
	Duration    time.Duration
}

// UploadSummary describes a completed or aborted chunked upload.
type UploadSummary struct {
	UploadID   string
	CampaignID int
	StationID  int

	// Response is the last successful chunk response. Nil when nothing was sent.
	Response *IngestResponse

	// Results holds one entry per attempted chunk, in upload order.
	Results []ChunkResult

	ChunksUploaded int
	ChunksTotal    int
	RowsUploaded   int

	// NoMeasurements is set when the measurement file had no data rows and no
	// request was made.
	NoMeasurements bool

	Duration time.Duration
}

// Complete reports whether every chunk was accepted.
func (s *UploadSummary) Complete() bool {
	return s.NoMeasurements || (s.ChunksTotal > 0 && s.ChunksUploaded == s.ChunksTotal)
}

// UploadPhase indicates the current stage of upload processing.
type UploadPhase string

const (
	PhaseStarting   UploadPhase = "starting"
	PhaseResolving  UploadPhase = "resolving"
	PhaseValidating UploadPhase = "validating"
	PhaseChunking   UploadPhase = "chunking"
	PhaseUploading  UploadPhase = "uploading"
	PhaseComplete   UploadPhase = "complete"
	PhaseFailed     UploadPhase = "failed"
)

// UploadProgress represents the current state of an upload operation.
type UploadProgress struct {
	UploadID    string
	Phase       UploadPhase
	FileName    string
	ChunkIndex  int // Last chunk accepted, 0 before the first
	ChunksTotal int
	RowsSent    int
	Error       string // Non-empty if Phase is PhaseFailed
}

// Percent returns chunk-based progress as a percentage (0-100).
func (p UploadProgress) Percent() int {
	if p.Phase == PhaseComplete {
		return 100
	}
	if p.ChunksTotal > 0 {
		return (p.ChunkIndex * 100) / p.ChunksTotal
	}
	return 0
}

// ProgressCallback is called as an upload moves between phases and after
// every accepted chunk.
type ProgressCallback func(UploadProgress)

// Chunk outcome recorded in the upload ledger.
const (
	ChunkStatusUploaded = "uploaded"
	ChunkStatusFailed   = "failed"
)

// ChunkRecord is one ledger entry for an attempted chunk.
type ChunkRecord struct {
	UploadID    string
	CampaignID  int
	StationID   int
	ChunkIndex  int
	ChunkTotal  int
	FileName    string
	Rows        int
	Bytes       int
	Fingerprint uint64
	Status      string
	Error       string
	Duration    time.Duration
	CreatedAt   time.Time
}

// HistoryRecorder persists chunk outcomes. Implemented by the history package.
type HistoryRecorder interface {
	RecordChunk(ctx context.Context, rec ChunkRecord) error
}
