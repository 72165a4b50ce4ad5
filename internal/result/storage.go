package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/signalnine/trialmatrix/internal/atomicfile"
)

// RunDir returns the directory holding all output of a test.
func RunDir(baseDir, testID string) string {
	return filepath.Join(baseDir, testID)
}

func TrialPath(runDir, tier, model string, run int) string {
	return filepath.Join(runDir, "trials", SafeName(tier), SafeName(model), fmt.Sprintf("run-%d.json", run))
}

// WriteTrialRecord stores rec under runDir, replacing any earlier record of
// the same run.
func WriteTrialRecord(runDir string, rec *TrialRecord) error {
	return writeJSON(TrialPath(runDir, rec.TierID, rec.ModelID, rec.RunNumber), rec)
}

func ReadTrialRecord(path string) (*TrialRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trial record: %w", err)
	}
	var rec TrialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing trial record: %w", err)
	}
	return &rec, nil
}

// WriteSummary stores the summary as summary.json in runDir.
func WriteSummary(runDir string, s *EvalSummary) error {
	return writeJSON(filepath.Join(runDir, "summary.json"), s)
}

func ReadSummary(path string) (*EvalSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading summary: %w", err)
	}
	var s EvalSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing summary: %w", err)
	}
	return &s, nil
}

// SafeName maps an identifier to a single path element.
func SafeName(id string) string {
	out := []byte(id)
	for i, b := range out {
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9', b == '-', b == '_', b == '.':
		default:
			out[i] = '_'
		}
	}
	if len(out) == 0 || string(out) == "." || string(out) == ".." {
		return "_"
	}
	return string(out)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	return atomicfile.Write(path, data, 0o644)
}
