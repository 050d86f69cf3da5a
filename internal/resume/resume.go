// Package resume defines the resume data a transport task leaves behind when
// it stops early, and decides whether that data can still be trusted.
package resume

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
)

// Version is the current resume data format version.
const Version = 1

// Data is the serialized state needed to continue a transfer.
type Data struct {
	Version      int    `json:"v"`
	URL          string `json:"url"`
	LocalPath    string `json:"local_path,omitempty"`
	TempFileName string `json:"temp_file_name,omitempty"`
	Received     int64  `json:"received"`
	Expected     int64  `json:"expected"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// Parse decodes resume data.
func Parse(raw []byte) (*Data, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty resume data")
	}

	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to parse resume data: %w", err)
	}
	if d.URL == "" {
		return nil, errors.New("resume data has no url")
	}
	return &d, nil
}

// Marshal encodes d, stamping the current version.
func (d *Data) Marshal() ([]byte, error) {
	d.Version = Version
	return json.Marshal(d)
}

// Path returns the temp file the data refers to. An empty LocalPath falls
// back to tempDir joined with TempFileName.
func (d *Data) Path(tempDir string) string {
	if d.LocalPath != "" {
		return d.LocalPath
	}
	if d.TempFileName == "" {
		return ""
	}
	return filepath.Join(tempDir, d.TempFileName)
}

// Checker reports whether a path exists.
type Checker interface {
	Exists(path string) bool
}

// Validator decides whether resume data references a temp file that is
// still on disk.
type Validator struct {
	TempDir string
	FS      Checker
	Logger  *slog.Logger
}

// IsValid returns false for missing or unparsable data. Parse failures are
// not errors for the caller: it restarts from the plain URL instead.
func (v *Validator) IsValid(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}

	d, err := Parse(raw)
	if err != nil {
		v.debug("Resume data rejected", "error", err)
		return false
	}

	path := d.Path(v.TempDir)
	if path == "" {
		v.debug("Resume data has no temp file")
		return false
	}

	exists := v.FS.Exists(path)
	v.debug("Resume data temp file checked", "path", path, "exists", exists)
	return exists
}

func (v *Validator) debug(msg string, args ...any) {
	if v.Logger != nil {
		v.Logger.Debug(msg, args...)
	}
}
