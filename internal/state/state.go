package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Fingerprint identifies one version of a data file.
type Fingerprint struct {
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%d-%d", f.Size, f.ModTime.UnixNano())
}

// FileFingerprint stats path.
func FileFingerprint(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Size: info.Size(), ModTime: info.ModTime().UTC()}, nil
}

// ScanState remembers the data files seen by the last scheduled scan.
type ScanState struct {
	Files     map[string]Fingerprint `json:"files"`
	LastRunID string                 `json:"last_run_id,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Changed reports whether securityID is new or its file differs from the last scan.
func (s *ScanState) Changed(securityID string, fp Fingerprint) bool {
	prev, ok := s.Files[securityID]
	return !ok || prev.Size != fp.Size || !prev.ModTime.Equal(fp.ModTime)
}

func (s *ScanState) Update(securityID string, fp Fingerprint) {
	if s.Files == nil {
		s.Files = make(map[string]Fingerprint)
	}
	s.Files[securityID] = fp
}

// Load reads the scan state from a JSON file. Returns an empty state if the file doesn't exist.
func Load(filePath string) (*ScanState, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &ScanState{Files: make(map[string]Fingerprint)}, nil
		}
		return nil, err
	}
	var st ScanState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode scan state: %w", err)
	}
	if st.Files == nil {
		st.Files = make(map[string]Fingerprint)
	}
	return &st, nil
}

// Save writes the scan state to a JSON file.
func Save(filePath string, st *ScanState) error {
	st.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(filePath, data, 0644)
}
