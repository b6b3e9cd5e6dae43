// Package artifact stores the per-participant files that back a leaderboard
// entry: the raw uploaded predictions and the evaluation detail record.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tablearena/tablearena/internal/evaluation"
	apperrors "github.com/tablearena/tablearena/internal/pkg/errors"
)

// Record is the persisted detail record for one evaluated submission.
type Record struct {
	Name      string             `json:"name"`
	JobID     string             `json:"job_id"`
	CreatedAt time.Time          `json:"created_at"`
	Result    *evaluation.Result `json:"result"`
}

// Registry lays out artifacts as <dir>/<name>.json. Names must already be
// validated as safe file names.
type Registry struct {
	UploadDir  string
	DetailsDir string
}

// NewRegistry creates both directories.
func NewRegistry(uploadDir, detailsDir string) (*Registry, error) {
	for _, dir := range []string{uploadDir, detailsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create artifact directory: %w", err)
		}
	}
	return &Registry{UploadDir: uploadDir, DetailsDir: detailsDir}, nil
}

func (r *Registry) uploadPath(name string) string {
	return filepath.Join(r.UploadDir, name+".json")
}

func (r *Registry) detailsPath(name string) string {
	return filepath.Join(r.DetailsDir, name+".json")
}

// SaveUpload writes the raw submission. It fails with ALREADY_EXISTS rather
// than overwrite an earlier upload.
func (r *Registry) SaveUpload(name string, data []byte) error {
	f, err := os.OpenFile(r.uploadPath(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return apperrors.AlreadyExistsError(fmt.Sprintf("submission %q", name))
		}
		return apperrors.StorageError("failed to create upload file", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return apperrors.StorageError("failed to write upload file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return apperrors.StorageError("failed to close upload file", err)
	}
	return nil
}

// UploadExists reports whether a raw submission is stored for name.
func (r *Registry) UploadExists(name string) bool {
	_, err := os.Stat(r.uploadPath(name))
	return err == nil
}

// SaveDetails writes the detail record for name.
func (r *Registry) SaveDetails(name string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return apperrors.InternalError("failed to marshal detail record", err)
	}
	if err := os.WriteFile(r.detailsPath(name), data, 0644); err != nil {
		return apperrors.StorageError("failed to write detail record", err)
	}
	return nil
}

// LoadDetails reads the detail record for name.
func (r *Registry) LoadDetails(name string) (*Record, error) {
	data, err := os.ReadFile(r.detailsPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFoundError(fmt.Sprintf("details for %q", name))
		}
		return nil, apperrors.StorageError("failed to read detail record", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, apperrors.StorageError("failed to unmarshal detail record", err)
	}
	return &rec, nil
}

// Discard removes every artifact for name. Used to roll back a submission
// that did not make it onto the leaderboard.
func (r *Registry) Discard(name string) error {
	var errs []error
	for _, path := range []string{r.uploadPath(name), r.detailsPath(name)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return apperrors.StorageError("failed to discard artifacts", errors.Join(errs...))
	}
	return nil
}

// Removal is a staged deletion: the files are moved aside and either deleted
// by Commit or put back by Rollback.
type Removal struct {
	moved map[string]string // staged path -> original path
}

// Stage moves the artifacts for name aside. Missing artifacts are skipped.
// If any move fails, the ones already moved are restored.
func (r *Registry) Stage(name string) (*Removal, error) {
	rm := &Removal{moved: make(map[string]string, 2)}
	suffix := ".deleting-" + uuid.NewString()

	for _, path := range []string{r.uploadPath(name), r.detailsPath(name)} {
		staged := path + suffix
		if err := os.Rename(path, staged); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			rm.Rollback()
			return nil, apperrors.StorageError("failed to stage artifact", err)
		}
		rm.moved[staged] = path
	}
	return rm, nil
}

// Staged returns how many files were moved aside.
func (rm *Removal) Staged() int {
	return len(rm.moved)
}

// Commit deletes the staged files.
func (rm *Removal) Commit() error {
	var errs []error
	for staged := range rm.moved {
		if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	rm.moved = nil
	if len(errs) > 0 {
		return apperrors.StorageError("failed to delete staged artifacts", errors.Join(errs...))
	}
	return nil
}

// Rollback restores the staged files to their original paths.
func (rm *Removal) Rollback() error {
	var errs []error
	for staged, orig := range rm.moved {
		if err := os.Rename(staged, orig); err != nil {
			errs = append(errs, err)
		}
	}
	rm.moved = nil
	if len(errs) > 0 {
		return apperrors.StorageError("failed to restore staged artifacts", errors.Join(errs...))
	}
	return nil
}
