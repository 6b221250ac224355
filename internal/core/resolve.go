package core

// resolve.go turns the accepted input shapes into a TabularFile.
//
// A FileInput is one of exactly three variants, built with FromPath,
// FromBytes or FromNamedBytes. The interface is sealed so Resolve can switch
// over every variant.

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileInput is a caller supplied CSV file in one of the supported shapes.
type FileInput interface {
	fileInput()
}

// PathInput is a file on the local filesystem.
type PathInput struct {
	Path string
}

// BytesInput is raw file content with no name.
type BytesInput struct {
	Data []byte
}

// NamedBytesInput is raw file content with the name it should be uploaded as.
type NamedBytesInput struct {
	Name string
	Data []byte
}

func (PathInput) fileInput()       {}
func (BytesInput) fileInput()      {}
func (NamedBytesInput) fileInput() {}

// FromPath returns a FileInput read from path at resolution time.
func FromPath(path string) FileInput { return PathInput{Path: path} }

// FromBytes returns a FileInput for unnamed content.
func FromBytes(data []byte) FileInput { return BytesInput{Data: data} }

// FromNamedBytes returns a FileInput for named content.
func FromNamedBytes(name string, data []byte) FileInput {
	return NamedBytesInput{Name: name, Data: data}
}

// Resolve normalizes input into a TabularFile for role. Only the path
// variant touches the disk. Content is not decoded here.
func Resolve(input FileInput, role Role) (TabularFile, error) {
	switch in := input.(type) {
	case PathInput:
		return resolvePath(in.Path, role)

	case BytesInput:
		return TabularFile{Name: role.DefaultName(), Role: role, Raw: in.Data}, nil

	case NamedBytesInput:
		if in.Name == "" {
			return TabularFile{}, &InvalidFormatError{Role: role, Reason: "file name must not be empty"}
		}
		return TabularFile{Name: in.Name, Role: role, Raw: in.Data}, nil

	case nil:
		return TabularFile{}, &InvalidFormatError{Role: role, Reason: "no file provided"}

	default:
		return TabularFile{}, &InvalidFormatError{Role: role, Reason: fmt.Sprintf("unsupported input %T", input)}
	}
}

func resolvePath(path string, role Role) (TabularFile, error) {
	if path == "" {
		return TabularFile{}, &InvalidFormatError{Role: role, Reason: "empty path"}
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return TabularFile{}, &FileNotFoundError{Role: role, Path: path, Err: err}
		}
		return TabularFile{}, fmt.Errorf("stat %s file: %w", role, err)
	}
	if info.IsDir() {
		return TabularFile{}, &InvalidFormatError{Role: role, Reason: fmt.Sprintf("%s is a directory", path)}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return TabularFile{}, fmt.Errorf("reading %s file: %w", role, err)
	}

	return TabularFile{Name: filepath.Base(path), Role: role, Raw: data}, nil
}
