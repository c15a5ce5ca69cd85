package batch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Encode renders the summary as YAML for .yaml/.yml paths and as indented
// JSON otherwise.
func (s *Summary) Encode(path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := yaml.Marshal(s)
		if err != nil {
			return nil, goerr.Wrap(err, "encode report as yaml")
		}
		return data, nil
	default:
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return nil, goerr.Wrap(err, "encode report as json")
		}
		return append(data, '\n'), nil
	}
}

// WriteReport stores the summary at path.
func (s *Summary) WriteReport(path string) error {
	data, err := s.Encode(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return goerr.Wrap(err, "create report dir", goerr.V("path", path))
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return goerr.Wrap(err, "write report", goerr.V("path", path))
	}
	return nil
}
