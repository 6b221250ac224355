package core

import (
	"bytes"
	"encoding/csv"
	"io"
	"testing"
)

func TestBOMSkippingReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("alias,units")...),
			expected: "alias,units",
		},
		{
			name:     "file without BOM",
			input:    []byte("alias,units"),
			expected: "alias,units",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "partial BOM at start",
			input:    []byte{0xEF, 0xBB, 'a', 'b', 'c'},
			expected: string([]byte{0xEF, 0xBB, 'a', 'b', 'c'}),
		},
		{
			name:     "BOM only stripped once",
			input:    []byte{0xEF, 0xBB, 0xBF, 0xEF, 0xBB, 0xBF, 'x'},
			expected: string([]byte{0xEF, 0xBB, 0xBF, 'x'}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := NewBOMSkippingReader(bytes.NewReader(tt.input))
			result, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestBOMSkippingReader_CSVHeader(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte("alias,variablename,units\nt1,Temp,C\n")...)

	r := csv.NewReader(NewBOMSkippingReader(bytes.NewReader(input)))
	header, err := r.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if header[0] != "alias" {
		t.Errorf("first header = %q, want %q", header[0], "alias")
	}
}
