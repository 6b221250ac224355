package core

// chunker.go partitions a measurement file into header-prefixed chunks.
//
// Chunks are cut on record boundaries. A record ends at "\n", "\r\n" or a
// lone "\r", but a line end inside a quoted field belongs to the record, so
// the scanner tracks quote parity and never splits such a record. If a quote
// is still open at the end of the file it was a stray character, not a
// field delimiter, and the file is cut on every line end instead. Line
// terminators are kept byte for byte: joining the record portions of every
// chunk reproduces the original data rows exactly.

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// DefaultChunkSize is the number of data records per chunk when none is configured.
const DefaultChunkSize = 1000

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Split partitions file into chunks of at most chunkSize data records each.
//
// The first record is the header and is copied to the front of every chunk
// (without any byte-order mark). A file with no data records returns
// []Chunk{EmptyChunk}.
func Split(file TabularFile, chunkSize int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, &ValidationError{
			Field:   "chunk_size",
			Message: fmt.Sprintf("chunk_size must be a positive integer, got %d", chunkSize),
		}
	}
	if file.Role == "" {
		file.Role = RoleMeasurements
	}
	if _, err := file.Text(); err != nil {
		return nil, err
	}

	header, records := splitRecords(bytes.TrimPrefix(file.Raw, utf8BOM))
	if len(records) == 0 {
		return []Chunk{EmptyChunk}, nil
	}

	stem, ext := file.stemExt()
	total := (len(records) + chunkSize - 1) / chunkSize
	chunks := make([]Chunk, 0, total)

	for start := 0; start < len(records); start += chunkSize {
		end := min(start+chunkSize, len(records))
		group := records[start:end]

		size := len(header)
		for _, rec := range group {
			size += len(rec)
		}
		data := make([]byte, 0, size)
		data = append(data, header...)
		for _, rec := range group {
			data = append(data, rec...)
		}

		index := len(chunks) + 1
		chunks = append(chunks, Chunk{
			Name:        stem + "_" + strconv.Itoa(index) + ext,
			Data:        data,
			Index:       index,
			Rows:        len(group),
			Fingerprint: xxhash.Sum64(data),
		})
	}

	return chunks, nil
}

// CountRecords returns the number of data records after the header.
func CountRecords(raw []byte) int {
	_, records := splitRecords(bytes.TrimPrefix(raw, utf8BOM))
	return len(records)
}

// splitRecords returns the header record and the data records of raw. Each
// returned slice aliases raw and keeps its terminator.
func splitRecords(raw []byte) ([]byte, [][]byte) {
	records, balanced := scanRecords(raw, true)
	if !balanced {
		records, _ = scanRecords(raw, false)
	}

	if len(records) == 0 {
		return nil, nil
	}
	return records[0], records[1:]
}

// scanRecords cuts raw after each line end outside quotes. It reports
// whether every quote was closed.
func scanRecords(raw []byte, honorQuotes bool) ([][]byte, bool) {
	var (
		records [][]byte
		start   int
		quoted  bool
	)

	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '"':
			if honorQuotes {
				quoted = !quoted
			}
		case '\r':
			if quoted {
				continue
			}
			if i+1 < len(raw) && raw[i+1] == '\n' {
				i++
			}
			records = append(records, raw[start:i+1])
			start = i + 1
		case '\n':
			if !quoted {
				records = append(records, raw[start:i+1])
				start = i + 1
			}
		}
	}
	if start < len(raw) {
		records = append(records, raw[start:])
	}

	return records, !quoted
}

// JoinRecords concatenates the data records of chunks, dropping each chunk's
// header. The result equals the data portion of the file that was split.
func JoinRecords(chunks []Chunk) []byte {
	var buf bytes.Buffer
	for _, c := range chunks {
		if c.IsEmpty() {
			continue
		}
		header, _ := splitRecords(c.Data)
		buf.Write(c.Data[len(header):])
	}
	return buf.Bytes()
}
