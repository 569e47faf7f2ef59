// Package checkpoint persists ingest progress so a restarted aggregator
// resumes from where the consumer group left off.
package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// State is the persisted progress: next offset per partition plus the last
// event timestamp observed, for operator visibility after a restart.
type State struct {
	Offsets map[int32]int64 `json:"offsets"`
	LastTs  int64           `json:"last_ts"`
}

// File stores State as JSON with a tmp+rename write, so a crash mid-save
// leaves the previous checkpoint intact.
type File struct {
	path string
}

func NewFile(path string) (*File, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &File{path: path}, nil
}

// Load returns the stored state and whether one existed.
func (c *File) Load() (State, bool, error) {
	b, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, err
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return State{}, false, err
	}
	if out.Offsets == nil {
		out.Offsets = map[int32]int64{}
	}
	return out, true, nil
}

func (c *File) Save(v State) error {
	if v.Offsets == nil {
		v.Offsets = map[int32]int64{}
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
