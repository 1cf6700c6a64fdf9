package display

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DefaultSysfsRoot is where the kernel exposes DRM connectors.
const DefaultSysfsRoot = "/sys/class/drm"

// SysfsEDID reads EDID blobs of connected DRM connectors. Display N is the
// N-th connected connector with a non-empty EDID, in name order.
type SysfsEDID struct {
	Root string
}

func (s SysfsEDID) root() string {
	if s.Root == "" {
		return DefaultSysfsRoot
	}
	return s.Root
}

// Connectors lists connected connector directories that expose an EDID.
func (s SysfsEDID) Connectors() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.root(), "card*-*", "edid"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", s.root(), err)
	}

	var connectors []string
	for _, edidPath := range matches {
		dir := filepath.Dir(edidPath)
		status, err := os.ReadFile(filepath.Join(dir, "status"))
		if err == nil && !bytes.Equal(bytes.TrimSpace(status), []byte("connected")) {
			continue
		}
		// sysfs attributes report size 0, so read to find empty ones
		if data, err := os.ReadFile(edidPath); err != nil || len(data) == 0 {
			continue
		}
		connectors = append(connectors, dir)
	}
	sort.Strings(connectors)
	return connectors, nil
}

// Read returns the raw EDID of a display.
func (s SysfsEDID) Read(display int) ([]byte, error) {
	connectors, err := s.Connectors()
	if err != nil {
		return nil, err
	}
	if display < 0 || display >= len(connectors) {
		return nil, fmt.Errorf("%w: no EDID for display %d", ErrNotFound, display)
	}
	data, err := os.ReadFile(filepath.Join(connectors[display], "edid"))
	if err != nil {
		return nil, fmt.Errorf("failed to read EDID: %w", err)
	}
	return data, nil
}
