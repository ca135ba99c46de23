package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sgtransit/mrt-pipeline/internal/model"
)

// Store reads and writes a checkpoint file at a fixed path. A Store must
// not be shared between concurrently running processes; single-writer
// ownership is the engine's contract, not enforced by locking.
type Store struct {
	path string
}

// NewStore creates a Store for the given checkpoint path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the checkpoint file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the checkpoint. A missing file returns (nil, nil). A corrupt
// or unreadable file is treated as no checkpoint: it is logged and (nil,
// nil) is returned so the run starts clean rather than aborting.
func (s *Store) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		zap.L().Warn("checkpoint unreadable, starting fresh",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return nil, nil
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		zap.L().Warn("checkpoint corrupt, starting fresh",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return nil, nil
	}
	if cp.Stations == nil {
		cp.Stations = make(map[string]model.StationEnrichment)
	}
	return &cp, nil
}

// Save atomically writes the checkpoint: marshal, write to a temporary
// file in the same directory, fsync, then rename over the target. The old
// file stays intact until the rename succeeds.
func (s *Store) Save(cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return eris.Wrap(err, "checkpoint: marshal")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "checkpoint: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "checkpoint: create temp file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return eris.Wrap(err, "checkpoint: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return eris.Wrap(err, "checkpoint: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return eris.Wrap(err, "checkpoint: close temp file")
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return eris.Wrapf(err, "checkpoint: rename to %s", s.path)
	}
	return nil
}

// Discard removes the checkpoint file. Used by --restart.
func (s *Store) Discard() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return eris.Wrapf(err, "checkpoint: discard %s", s.path)
}

// Archive renames the finished checkpoint to the given final artifact path,
// retiring it so the merge stage consumes a stable file.
func (s *Store) Archive(finalPath string) error {
	if err := os.Rename(s.path, finalPath); err != nil {
		return eris.Wrapf(err, "checkpoint: archive to %s", finalPath)
	}
	return nil
}
