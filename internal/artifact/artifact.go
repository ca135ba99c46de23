// Package artifact reads and writes the JSON artifacts that connect the
// pipeline stages, and manages per-run output directories.
package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sgtransit/mrt-pipeline/internal/checkpoint"
	"github.com/sgtransit/mrt-pipeline/internal/merge"
	"github.com/sgtransit/mrt-pipeline/internal/model"
	"github.com/sgtransit/mrt-pipeline/internal/validate"
)

// Stage artifact filenames within a run directory.
const (
	StationsFile   = "stage1_stations.json"
	EnrichmentFile = "stage2_enrichment.json"
	CheckpointFile = "stage2_checkpoint.json"
	FinalFile      = "stations_final.json"
	IssuesFile     = "merge_issues.json"
	ReportFile     = "validation_report.json"
	ManifestFile   = "manifest.json"
	latestLink     = "latest"
)

// Manifest records what a run produced.
type Manifest struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	PipelineVersion string    `json:"pipeline_version"`
	StagesCompleted []string  `json:"stages_completed"`
}

// MarkStage appends a completed stage if not already present.
func (m *Manifest) MarkStage(stage string) {
	for _, s := range m.StagesCompleted {
		if s == stage {
			return
		}
	}
	m.StagesCompleted = append(m.StagesCompleted, stage)
	m.UpdatedAt = time.Now().UTC()
}

// NewRunDir creates a fresh run directory under outputDir and points the
// "latest" symlink at it.
func NewRunDir(outputDir, version string) (string, *Manifest, error) {
	runID := time.Now().UTC().Format("20060102-150405") + "-" + uuid.New().String()[:8]
	dir := filepath.Join(outputDir, "runs", runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, eris.Wrapf(err, "artifact: create run dir %s", dir)
	}

	m := &Manifest{
		RunID:           runID,
		StartedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
		PipelineVersion: version,
	}
	if err := WriteManifest(dir, m); err != nil {
		return "", nil, err
	}
	if err := UpdateLatestLink(outputDir, dir); err != nil {
		return "", nil, err
	}
	return dir, m, nil
}

// LatestRunDir resolves the "latest" symlink, or errors when no run exists.
func LatestRunDir(outputDir string) (string, error) {
	link := filepath.Join(outputDir, latestLink)
	target, err := os.Readlink(link)
	if err != nil {
		return "", eris.Wrapf(err, "artifact: no latest run under %s", outputDir)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(outputDir, target)
	}
	return target, nil
}

// UpdateLatestLink atomically repoints outputDir/latest at runDir.
func UpdateLatestLink(outputDir, runDir string) error {
	rel, err := filepath.Rel(outputDir, runDir)
	if err != nil {
		rel = runDir
	}
	link := filepath.Join(outputDir, latestLink)
	tmp := link + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(rel, tmp); err != nil {
		return eris.Wrap(err, "artifact: create latest symlink")
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return eris.Wrap(err, "artifact: update latest symlink")
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "artifact: marshal %s", filepath.Base(path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "artifact: create dir for %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "artifact: write %s", path)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "artifact: read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "artifact: parse %s", path)
	}
	return nil
}

// WriteStationSet persists the ingest stage output.
func WriteStationSet(runDir string, set *model.StationSet) error {
	return writeJSON(filepath.Join(runDir, StationsFile), set)
}

// ReadStationSet loads the ingest stage output.
func ReadStationSet(runDir string) (*model.StationSet, error) {
	var set model.StationSet
	if err := readJSON(filepath.Join(runDir, StationsFile), &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// ReadEnrichment loads a finalized enrichment artifact. A missing file
// returns an empty map: merging without enrichment is a supported state.
func ReadEnrichment(runDir string) (map[string]model.StationEnrichment, error) {
	path := filepath.Join(runDir, EnrichmentFile)
	var cp checkpoint.Checkpoint
	if err := readJSON(path, &cp); err != nil {
		if os.IsNotExist(eris.Cause(err)) {
			return map[string]model.StationEnrichment{}, nil
		}
		return nil, err
	}
	if cp.Stations == nil {
		return map[string]model.StationEnrichment{}, nil
	}
	return cp.Stations, nil
}

// WriteFinalOutput persists the reconciled output and merge issues.
func WriteFinalOutput(runDir string, out *model.FinalOutput, issues []merge.Issue) error {
	if err := writeJSON(filepath.Join(runDir, FinalFile), out); err != nil {
		return err
	}
	if issues == nil {
		issues = []merge.Issue{}
	}
	return writeJSON(filepath.Join(runDir, IssuesFile), issues)
}

// ReadFinalOutput loads the reconciled output.
func ReadFinalOutput(runDir string) (*model.FinalOutput, error) {
	var out model.FinalOutput
	if err := readJSON(filepath.Join(runDir, FinalFile), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WriteReport persists the validation report.
func WriteReport(runDir string, report *validate.Report) error {
	return writeJSON(filepath.Join(runDir, ReportFile), report)
}

// WriteManifest persists the run manifest.
func WriteManifest(runDir string, m *Manifest) error {
	return writeJSON(filepath.Join(runDir, ManifestFile), m)
}

// ReadManifest loads the run manifest.
func ReadManifest(runDir string) (*Manifest, error) {
	var m Manifest
	if err := readJSON(filepath.Join(runDir, ManifestFile), &m); err != nil {
		return nil, err
	}
	return &m, nil
}
