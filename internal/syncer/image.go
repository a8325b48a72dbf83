package syncer

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"crede/internal/models"
)

// DataError marks a unit that cannot be synchronized because its backing
// data is gone (missing file, missing row). Not retried: retrying cannot
// produce the data.
type DataError struct {
	Unit string
	Err  error
}

func (e *DataError) Error() string { return fmt.Sprintf("%s: %v", e.Unit, e.Err) }
func (e *DataError) Unwrap() error { return e.Err }

// EncodePhoto returns the photo payload as base64. A remote reference is
// passed through as-is (already encoded); a local path is read from disk
// under the media root.
func EncodePhoto(mediaRoot string, p *models.Photo) (string, error) {
	if p.RemoteRef != "" {
		return p.RemoteRef, nil
	}
	if p.LocalPath == "" {
		return "", &DataError{Unit: fmt.Sprintf("photo %d", p.ID), Err: fmt.Errorf("no local path and no remote reference")}
	}
	full := filepath.Join(mediaRoot, strings.TrimPrefix(p.LocalPath, "/"))
	raw, err := os.ReadFile(full)
	if err != nil {
		return "", &DataError{Unit: fmt.Sprintf("photo %d", p.ID), Err: err}
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
