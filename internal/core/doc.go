// Package core provides the ingestion pipeline for sensor and measurement
// CSV files.
//
// The package holds the domain logic independent of any transport. The
// HTTP client in internal/api implements [Ingestor]; the CLI and tests
// drive an [Uploader] without modification.
//
// # Pipeline
//
// One upload is made of four steps:
//
//   - Resolve: [Resolve] turns a [FileInput] (path, bytes, named bytes) into a
//     [TabularFile] without decoding it.
//   - Validate: [ValidateFile] checks required columns and per-row values
//     against the sensor or measurement schema.
//   - Chunk: [Split] cuts the measurement file into header-prefixed chunks of
//     at most N data records.
//   - Upload: [Uploader.Upload] sends every chunk, in order, together with
//     the full sensor file, and stops at the first failure.
//
// A measurement file with no data rows splits into the single [EmptyChunk]
// sentinel and produces no network call.
//
// # Error Handling
//
// Local problems match [ErrValidation] with errors.Is. Remote failures are
// [*APIError], [*NetworkError] or [*AuthenticationError]. Every pipeline
// failure is wrapped in a [*StageError] naming the step and, for uploads,
// the chunk.
//
// Technical errors are mapped to user-facing messages using [MapError]:
//
//   - FILE001-FILE004: File errors (missing, encoding, format, size)
//   - VAL000-VAL005: Validation errors (columns, fields, ranges)
//   - API000-API500, AUTH001-AUTH002: Remote errors
//   - NET000-NET002, RATE001: Transport errors
//   - UPL001-UPL002: Upload errors (busy, cancelled)
//
// # Concurrency
//
// An [Uploader] is safe for concurrent use. Concurrent Upload calls are
// bounded by its [UploadLimiter], one at a time by default.
package core
