// Package artifact implements the Artifact Store (spec §4.A): run-scoped,
// kind-scoped filesystem storage for run logs, screenshots, videos and
// reports, grounded on the teacher's atomic-write and path-sanitizing
// conventions from infrastructure/errors (ServiceError/Kind usage
// throughout) and the general filesystem-adapter shape seen across the
// pack's storage code. Keys are opaque relative paths that carry the
// run_id as a directory namespace, so delete(run_id) is a single
// directory-scope removal and two different runs never alias onto the
// same stored file even when their content is byte-identical.
package artifact

import (
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/r3e-network/qa-automation-core/internal/apperrors"
)

// Kind is the artifact category (§4.A).
type Kind string

const (
	KindLog        Kind = "LOG"
	KindScreenshot Kind = "SCREENSHOT"
	KindVideo      Kind = "VIDEO"
	KindReport     Kind = "REPORT"
)

var allKinds = []Kind{KindLog, KindScreenshot, KindVideo, KindReport}

var allowedExtByKind = map[Kind]map[string]bool{
	KindLog:        {".log": true, ".txt": true, ".json": true},
	KindScreenshot: {".png": true, ".jpg": true, ".jpeg": true},
	KindVideo:      {".mp4": true, ".webm": true},
	KindReport:     {".json": true, ".html": true, ".xml": true},
}

// Entry describes one stored artifact as returned by List.
type Entry struct {
	Key       string // opaque; pass back to Get/Delete
	Kind      Kind
	RunID     string
	SizeBytes int64
	CreatedAt time.Time
}

// Stats is the result of a store-wide statistics scan.
type Stats struct {
	CountByKind map[Kind]int
	BytesByKind map[Kind]int64
	TotalCount  int
	TotalBytes  int64
	Oldest      time.Time
	Newest      time.Time
}

// Store is a run-scoped filesystem artifact store. Layout:
// {root}/{kind_dir}/{run_id}/{logical_name}, per §6.
type Store struct {
	root         string
	maxFileBytes int64
}

// New constructs a Store rooted at root. maxFileBytes bounds a single Put;
// zero means unbounded.
func New(root string, maxFileBytes int64) *Store {
	return &Store{root: root, maxFileBytes: maxFileBytes}
}

func kindDir(kind Kind) string { return strings.ToLower(string(kind)) }

// keyFor builds the opaque, run-namespaced relative key for (kind, runID,
// logicalName).
func keyFor(kind Kind, runID, logicalName string) string {
	return filepath.Join(kindDir(kind), runID, logicalName)
}

// Put stores content for runID under kind with the given logical name,
// returning its opaque key. Writing is atomic: content lands in a temp
// file in the same directory, then is renamed into place, so a crash
// mid-write never leaves a partial artifact visible under its final name.
// Uploading identical (run_id, logical_name, content) twice is a no-op
// that writes nothing (artifact idempotence, §8); uploading the same
// logical_name again with different content overwrites it, since
// logical_name — not content — is the artifact's identity within a run.
func (s *Store) Put(runID string, kind Kind, logicalName string, content []byte) (string, error) {
	if runID == "" {
		return "", apperrors.NewValidation("run_id is required to store an artifact")
	}
	if err := validateLogicalName(logicalName); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(logicalName))
	if !allowedExtByKind[kind][ext] {
		return "", apperrors.NewValidation("extension not allowed for artifact kind").
			WithDetails("kind", string(kind)).WithDetails("ext", ext)
	}
	if s.maxFileBytes > 0 && int64(len(content)) > s.maxFileBytes {
		return "", apperrors.NewValidation("artifact exceeds max file size").
			WithDetails("size_bytes", len(content)).WithDetails("max_bytes", s.maxFileBytes)
	}

	key := keyFor(kind, runID, logicalName)
	finalPath := filepath.Join(s.root, key)
	if err := s.checkWithinRoot(finalPath); err != nil {
		return "", err
	}

	if existing, err := os.ReadFile(finalPath); err == nil && sameContent(existing, content) {
		return key, nil // already stored with identical content
	}

	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.NewTransientInfra("failed to create artifact directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", apperrors.NewTransientInfra("failed to create temp artifact file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", apperrors.NewTransientInfra("failed to write artifact content", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", apperrors.NewTransientInfra("failed to flush artifact content", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", apperrors.NewTransientInfra("failed to close temp artifact file", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", apperrors.NewTransientInfra("failed to finalize artifact write", err)
	}
	return key, nil
}

// PutLog is Put specialized for run logs (§4.A's put_log), keyed by runID
// and a logical name such as "run.log".
func (s *Store) PutLog(runID, name string, content []byte) (string, error) {
	return s.Put(runID, KindLog, name, content)
}

func sameContent(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	ha, hb := sha256.Sum256(a), sha256.Sum256(b)
	return ha == hb
}

func validateLogicalName(name string) error {
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return apperrors.NewValidation("invalid artifact logical name").WithDetails("logical_name", name)
	}
	return nil
}

// Get streams an artifact's content back given its key.
func (s *Store) Get(key string) (io.ReadCloser, error) {
	path := filepath.Join(s.root, key)
	if err := s.checkWithinRoot(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFound("artifact", key)
		}
		return nil, apperrors.NewTransientInfra("failed to open artifact", err)
	}
	return f, nil
}

// List enumerates every artifact stored for runID across all kinds.
func (s *Store) List(runID string) ([]Entry, error) {
	var entries []Entry
	for _, kind := range allKinds {
		dir := filepath.Join(s.root, kindDir(kind), runID)
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipDir
				}
				return err
			}
			if info.IsDir() {
				return nil
			}
			if strings.HasPrefix(filepath.Base(path), ".tmp-") {
				return nil
			}
			rel, relErr := filepath.Rel(s.root, path)
			if relErr != nil {
				return relErr
			}
			entries = append(entries, Entry{
				Key: rel, Kind: kind, RunID: runID,
				SizeBytes: info.Size(), CreatedAt: info.ModTime(),
			})
			return nil
		})
		if err != nil {
			return nil, apperrors.NewTransientInfra("failed to list artifacts", err)
		}
	}
	return entries, nil
}

// Delete removes every artifact stored for runID (a directory-scope
// operation, per §4.A), returning the count deleted. Deleting a run with
// no artifacts is not an error and returns 0; a repeated delete likewise
// returns 0 rather than erroring (artifact idempotence, §8).
func (s *Store) Delete(runID string) (int, error) {
	entries, err := s.List(runID)
	if err != nil {
		return 0, err
	}
	for _, kind := range allKinds {
		dir := filepath.Join(s.root, kindDir(kind), runID)
		if err := s.checkWithinRoot(dir); err != nil {
			return 0, err
		}
		if err := os.RemoveAll(dir); err != nil {
			return 0, apperrors.NewTransientInfra("failed to delete run artifacts", err)
		}
	}
	return len(entries), nil
}

// listAll walks every kind/run_id directory in the store, for Stats and
// Sweep, which operate across all runs rather than one.
func (s *Store) listAll() ([]Entry, error) {
	var entries []Entry
	for _, kind := range allKinds {
		dir := filepath.Join(s.root, kindDir(kind))
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipDir
				}
				return err
			}
			if info.IsDir() {
				return nil
			}
			if strings.HasPrefix(filepath.Base(path), ".tmp-") {
				return nil
			}
			rel, relErr := filepath.Rel(s.root, path)
			if relErr != nil {
				return relErr
			}
			runID := filepath.Base(filepath.Dir(path))
			entries = append(entries, Entry{
				Key: rel, Kind: kind, RunID: runID,
				SizeBytes: info.Size(), CreatedAt: info.ModTime(),
			})
			return nil
		})
		if err != nil {
			return nil, apperrors.NewTransientInfra("failed to scan artifacts", err)
		}
	}
	return entries, nil
}

// StatsScan walks the whole store and reports per-kind and total
// count/size plus the oldest/newest artifact timestamps. The figures come
// from a walk of the files rather than from a manifest, since the store
// itself is the only durable index; every entry is collected before it
// is aggregated.
func (s *Store) StatsScan() (Stats, error) {
	entries, err := s.listAll()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{CountByKind: map[Kind]int{}, BytesByKind: map[Kind]int64{}}
	for _, e := range entries {
		stats.CountByKind[e.Kind]++
		stats.BytesByKind[e.Kind] += e.SizeBytes
		stats.TotalCount++
		stats.TotalBytes += e.SizeBytes
		if stats.Oldest.IsZero() || e.CreatedAt.Before(stats.Oldest) {
			stats.Oldest = e.CreatedAt
		}
		if e.CreatedAt.After(stats.Newest) {
			stats.Newest = e.CreatedAt
		}
	}
	return stats, nil
}

// Sweep deletes artifacts of any kind older than olderThan across every
// run, for retention enforcement (spec §6 artifact.retention_days).
func (s *Store) Sweep(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	entries, err := s.listAll()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.CreatedAt.Before(cutoff) {
			path := filepath.Join(s.root, e.Key)
			if err := s.checkWithinRoot(path); err != nil {
				return removed, err
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return removed, apperrors.NewTransientInfra("failed to delete artifact", err)
			}
			removed++
		}
	}
	return removed, nil
}

// checkWithinRoot rejects any resolved path escaping the store root, which
// a maliciously or accidentally crafted run_id/logical name could
// otherwise achieve via "../" sequences.
func (s *Store) checkWithinRoot(path string) error {
	absRoot, err := filepath.Abs(s.root)
	if err != nil {
		return apperrors.NewInternal("failed to resolve artifact store root", "", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return apperrors.NewInternal("failed to resolve artifact path", "", err)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return apperrors.NewValidation("artifact path escapes store root")
	}
	return nil
}
