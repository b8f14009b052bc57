// Package runstore persists run results as JSON files, one per run.
package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/greycellz/formscan/internal/domain"
	"github.com/greycellz/formscan/internal/observability"
)

// FileStore stores each run as <runID>.json under a base directory and
// implements domain.RunStore. Runs of different documents share the
// directory; callers filter after loading.
type FileStore struct {
	dir    string
	logger *observability.Logger
}

// NewFileStore creates a file-backed run store rooted at dir.
func NewFileStore(dir string, logger *observability.Logger) *FileStore {
	if logger == nil {
		logger = observability.Nop()
	}
	return &FileStore{dir: dir, logger: logger.WithComponent("runstore")}
}

// Save writes one run result, creating the store directory on first
// use. An existing file for the same run ID is overwritten.
func (s *FileStore) Save(ctx context.Context, run *domain.RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run == nil {
		return domain.InputError("cannot save a nil run result", nil)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return domain.IOError(fmt.Sprintf("Failed to create run store directory %s", s.dir), err)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return domain.IOError("Failed to marshal run result", err)
	}

	path := filepath.Join(s.dir, run.RunID.String()+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.IOError(fmt.Sprintf("Failed to write run file %s", path), err)
	}

	s.logger.Debug().Str("run_id", run.RunID.String()).Str("path", path).Msg("Run saved")
	return nil
}

// LoadAll reads every run file in the store, ordered by start time with
// run ID as a tie-break so repeated loads are deterministic. A missing
// store directory yields an empty slice, not an error. A file that is
// not valid run JSON fails the load; the store only ever contains files
// Save wrote, so corruption is worth surfacing.
func (s *FileStore) LoadAll(ctx context.Context) ([]domain.RunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.RunResult{}, nil
		}
		return nil, domain.IOError(fmt.Sprintf("Failed to read run store directory %s", s.dir), err)
	}

	runs := make([]domain.RunResult, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.IOError(fmt.Sprintf("Failed to read run file %s", path), err)
		}

		var run domain.RunResult
		if err := json.Unmarshal(data, &run); err != nil {
			return nil, domain.InputError(fmt.Sprintf("run file %s is not valid run JSON", path), err)
		}
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.Before(runs[j].StartedAt)
		}
		return runs[i].RunID.String() < runs[j].RunID.String()
	})

	return runs, nil
}
