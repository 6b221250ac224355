package core

// upload.go drives a chunked CSV upload.
//
// The flow for one Upload call is:
//
//  1. Check the request (identifiers, chunk size) and take a limiter slot
//  2. Resolve both files and enforce the size ceiling
//  3. Validate structure locally (optional, sensors are always decoded)
//  4. Split the measurement file into header-prefixed chunks
//  5. Send each chunk, in order, together with the full sensor file
//
// Step 5 stops at the first failure. Chunks already accepted stay committed
// remotely; the returned summary lists them alongside the error.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/JonMunkholm/upstream/internal/logging"
)

// DefaultMaxFileSize is the documented per-file ceiling (500MB).
const DefaultMaxFileSize int64 = 500 * 1024 * 1024

// UploadRequest describes one chunked upload.
type UploadRequest struct {
	CampaignID   int       `json:"campaign_id" validate:"required"`
	StationID    int       `json:"station_id" validate:"required"`
	Sensors      FileInput `json:"sensors"`
	Measurements FileInput `json:"measurements"`

	// ChunkSize overrides the uploader's chunk size when positive.
	ChunkSize int `json:"chunk_size" validate:"gte=0"`
}

// UploaderOptions configures an Uploader. Zero values select defaults.
type UploaderOptions struct {
	ChunkSize      int           // Data records per chunk (default 1000)
	MaxFileSize    int64         // Per-file byte ceiling, negative disables (default 500MB)
	SkipValidation bool          // Skip local structure validation
	MaxConcurrent  int           // Concurrent Upload calls (default 1)
	MaxWaitTime    time.Duration // Wait for a free slot (default 30s)

	History    HistoryRecorder  // Optional chunk ledger
	OnProgress ProgressCallback // Optional progress listener
	Logger     *slog.Logger     // Defaults to slog.Default()
}

// Uploader runs chunked uploads against an Ingestor.
type Uploader struct {
	ingestor Ingestor
	opts     UploaderOptions
	limiter  *UploadLimiter
	validate *validator.Validate
	logger   *slog.Logger
}

// NewUploader creates an Uploader sending requests through ingestor.
func NewUploader(ingestor Ingestor, opts UploaderOptions) *Uploader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Uploader{
		ingestor: ingestor,
		opts:     opts,
		limiter:  NewUploadLimiter(opts.MaxConcurrent, opts.MaxWaitTime),
		validate: v,
		logger:   logger,
	}
}

// Limiter exposes the uploader's concurrency limiter.
func (u *Uploader) Limiter() *UploadLimiter {
	return u.limiter
}

// Upload validates, splits and sends one sensor file and one measurement
// file. The summary is returned even on failure and describes the chunks
// that were accepted before the error.
func (u *Uploader) Upload(ctx context.Context, req UploadRequest) (*UploadSummary, error) {
	start := time.Now()
	summary := &UploadSummary{
		UploadID:   uuid.NewString(),
		CampaignID: req.CampaignID,
		StationID:  req.StationID,
	}
	ctx = logging.ContextWithUploadID(ctx, summary.UploadID)
	log := u.logger.With(
		"upload_id", summary.UploadID,
		"campaign_id", req.CampaignID,
		"station_id", req.StationID,
	)

	fail := func(err error) (*UploadSummary, error) {
		summary.Duration = time.Since(start)
		u.progress(summary, PhaseFailed, "", err)
		log.Error("upload failed",
			"error", err,
			"chunks", summary.ChunksUploaded,
			"chunks_total", summary.ChunksTotal,
		)
		return summary, err
	}

	u.progress(summary, PhaseStarting, "", nil)

	// Step 1: Request checks happen before anything touches disk or network
	if err := u.checkRequest(req); err != nil {
		return fail(err)
	}

	release, err := u.limiter.Acquire(ctx)
	if err != nil {
		return fail(err)
	}
	defer release()

	// Step 2: Resolve inputs
	u.progress(summary, PhaseResolving, "", nil)
	sensors, err := u.resolve(req.Sensors, RoleSensors)
	if err != nil {
		return fail(err)
	}
	measurements, err := u.resolve(req.Measurements, RoleMeasurements)
	if err != nil {
		return fail(err)
	}

	// Step 3: Local structure validation
	u.progress(summary, PhaseValidating, measurements.Name, nil)
	if err := u.check(sensors, measurements); err != nil {
		return fail(err)
	}

	// Step 4: Chunk measurements
	u.progress(summary, PhaseChunking, measurements.Name, nil)
	chunkSize := u.opts.ChunkSize
	if req.ChunkSize > 0 {
		chunkSize = req.ChunkSize
	}
	chunks, err := Split(measurements, chunkSize)
	if err != nil {
		return fail(&StageError{Stage: StageChunk, File: measurements.Name, Err: err})
	}

	if len(chunks) == 1 && chunks[0].IsEmpty() {
		summary.NoMeasurements = true
		summary.Duration = time.Since(start)
		u.progress(summary, PhaseComplete, measurements.Name, nil)
		log.Info("no measurement rows to upload", "file", measurements.Name)
		return summary, nil
	}

	summary.ChunksTotal = len(chunks)
	summary.Results = make([]ChunkResult, 0, len(chunks))

	log.Info("upload started",
		"file", measurements.Name,
		"chunks", len(chunks),
		"bytes", measurements.Size(),
		"chunk_size", chunkSize,
	)

	// Step 5: Dispatch sequentially, stopping at the first failure
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return fail(&StageError{Stage: StageUpload, File: c.Name, Chunk: c.Index, Total: len(chunks), Err: err})
		}

		u.progress(summary, PhaseUploading, c.Name, nil)
		result := u.send(ctx, req, sensors, c)
		summary.Results = append(summary.Results, result)
		u.record(ctx, summary, result, log)

		if result.Err != nil {
			return fail(&StageError{Stage: StageUpload, File: c.Name, Chunk: c.Index, Total: len(chunks), Err: result.Err})
		}

		summary.Response = result.Response
		summary.ChunksUploaded++
		summary.RowsUploaded += c.Rows

		log.Debug("chunk uploaded",
			"chunk", c.Name,
			"index", c.Index,
			"rows", c.Rows,
			"bytes", len(c.Data),
			"duration", result.Duration,
		)
	}

	summary.Duration = time.Since(start)
	u.progress(summary, PhaseComplete, measurements.Name, nil)
	log.Info("upload completed",
		"chunks", summary.ChunksUploaded,
		"rows", summary.RowsUploaded,
		"duration", summary.Duration,
	)

	return summary, nil
}

// checkRequest translates struct validation failures into *ValidationError.
func (u *Uploader) checkRequest(req UploadRequest) error {
	err := u.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validate request: %w", err)
	}

	fe := verrs[0]
	msg := fmt.Sprintf("%s is required", fe.Field())
	if fe.Tag() != "required" {
		msg = fmt.Sprintf("%s must be a positive integer", fe.Field())
	}
	return &ValidationError{Field: fe.Field(), Message: msg, Err: err}
}

func (u *Uploader) resolve(input FileInput, role Role) (TabularFile, error) {
	file, err := Resolve(input, role)
	if err != nil {
		return TabularFile{}, &StageError{Stage: StageResolve, File: string(role), Err: err}
	}

	if u.opts.MaxFileSize > 0 && file.Size() > u.opts.MaxFileSize {
		return TabularFile{}, &StageError{Stage: StageResolve, File: file.Name, Err: &ValidationError{
			Field:   string(role),
			Message: fmt.Sprintf("%s file too large: %d bytes exceeds limit of %d bytes", role, file.Size(), u.opts.MaxFileSize),
		}}
	}

	return file, nil
}

// check runs local validation. The sensor file is always decoded because it
// is sent verbatim with every chunk.
func (u *Uploader) check(sensors, measurements TabularFile) error {
	if u.opts.SkipValidation {
		if _, err := sensors.Text(); err != nil {
			return &StageError{Stage: StageValidate, File: sensors.Name, Err: err}
		}
		return nil
	}

	for _, f := range []TabularFile{sensors, measurements} {
		res, err := ValidateFile(f)
		if err != nil {
			return &StageError{Stage: StageValidate, File: f.Name, Err: err}
		}
		u.logger.Debug("file validated", "file", f.Name, "rows", res.Count)
	}
	return nil
}

// send submits one chunk and classifies any failure.
func (u *Uploader) send(ctx context.Context, req UploadRequest, sensors TabularFile, c Chunk) ChunkResult {
	result := ChunkResult{
		Index:       c.Index,
		Name:        c.Name,
		Rows:        c.Rows,
		Bytes:       len(c.Data),
		Fingerprint: c.Fingerprint,
	}

	t0 := time.Now()
	resp, err := u.ingestor.UploadCSV(ctx, IngestRequest{
		CampaignID:   req.CampaignID,
		StationID:    req.StationID,
		Sensors:      Payload{Name: sensors.Name, Data: sensors.Raw},
		Measurements: Payload{Name: c.Name, Data: c.Data},
	})
	result.Duration = time.Since(t0)

	if err != nil {
		result.Err = classifyIngestError(err, req.CampaignID, req.StationID)
		return result
	}
	result.Response = resp
	return result
}

// classifyIngestError maps remote rejections onto the caller-facing taxonomy.
func classifyIngestError(err error, campaignID, stationID int) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.StatusCode {
	case http.StatusUnprocessableEntity:
		msg := apiErr.Message
		if msg == "" {
			msg = "measurement data rejected by server"
		}
		return &ValidationError{Message: msg, Err: apiErr}
	case http.StatusNotFound:
		return &APIError{
			StatusCode: http.StatusNotFound,
			Message:    fmt.Sprintf("station not found: campaign %d, station %d", campaignID, stationID),
			Body:       apiErr.Body,
		}
	default:
		return err
	}
}

// record writes a chunk outcome to the ledger. Ledger failures are logged
// and never abort the upload.
func (u *Uploader) record(ctx context.Context, summary *UploadSummary, res ChunkResult, log *slog.Logger) {
	if u.opts.History == nil {
		return
	}

	rec := ChunkRecord{
		UploadID:    summary.UploadID,
		CampaignID:  summary.CampaignID,
		StationID:   summary.StationID,
		ChunkIndex:  res.Index,
		ChunkTotal:  summary.ChunksTotal,
		FileName:    res.Name,
		Rows:        res.Rows,
		Bytes:       res.Bytes,
		Fingerprint: res.Fingerprint,
		Status:      ChunkStatusUploaded,
		Duration:    res.Duration,
		CreatedAt:   time.Now().UTC(),
	}
	if res.Err != nil {
		rec.Status = ChunkStatusFailed
		rec.Error = res.Err.Error()
	}

	if err := u.opts.History.RecordChunk(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("failed to record chunk", "chunk", res.Name, "error", err)
	}
}

func (u *Uploader) progress(s *UploadSummary, phase UploadPhase, file string, err error) {
	if u.opts.OnProgress == nil {
		return
	}
	p := UploadProgress{
		UploadID:    s.UploadID,
		Phase:       phase,
		FileName:    file,
		ChunkIndex:  s.ChunksUploaded,
		ChunksTotal: s.ChunksTotal,
		RowsSent:    s.RowsUploaded,
	}
	if err != nil {
		p.Error = err.Error()
	}
	u.opts.OnProgress(p)
}
