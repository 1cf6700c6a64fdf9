// Package edid reads, writes and rewrites EDID blobs on top of the parser.
package edid

import (
	"errors"
	"fmt"
	"os"

	"github.com/mscrnt/gpuctl/pkg/edid/parser"
)

// ErrNoRawData is returned when an Info carries no original bytes to export.
var ErrNoRawData = errors.New("EDID has no raw data")

// ExportToFile writes the original raw bytes of info to path. Parsed fields
// are never re-serialized, so the file is an exact copy of the source blob.
func ExportToFile(info *parser.Info, path string) error {
	if info == nil || len(info.Raw) == 0 {
		return ErrNoRawData
	}
	if err := os.WriteFile(path, info.Raw, 0644); err != nil {
		return fmt.Errorf("failed to write EDID file: %w", err)
	}
	return nil
}

// ImportFromFile reads and parses an EDID file.
func ImportFromFile(path string) (*parser.Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read EDID file: %w", err)
	}
	return parser.Parse(data)
}

// ValidateFile reports whether the base block checksum of the EDID at path
// is correct. Unreadable files and buffers that are not EDID at all are
// errors; a bad checksum is (false, nil).
func ValidateFile(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read EDID file: %w", err)
	}
	if _, err := parser.ParseHeader(data); err != nil {
		return false, err
	}
	return parser.ValidChecksum(data[:parser.BlockSize]), nil
}
