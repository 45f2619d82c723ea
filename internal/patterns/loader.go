package patterns

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rawblock/txguard-engine/pkg/models"
)

// Catalogue is the loader's unit of exchange: the exploit patterns plus
// the program classification sets the analyzers share.
type Catalogue struct {
	Patterns            []models.ExploitPattern `yaml:"patterns" json:"patterns"`
	VerifiedPrograms    []string                `yaml:"verified_programs" json:"verifiedPrograms"`
	BlocklistedPrograms []string                `yaml:"blocklisted_programs" json:"blocklistedPrograms"`
}

// Loader supplies the full catalogue on demand. Reload scheduling is
// external — the engine only exposes ReloadPatterns.
type Loader interface {
	LoadAll() (*Catalogue, error)
}

func loadAll(l Loader) ([]models.ExploitPattern, []string, []string, error) {
	if l == nil {
		return nil, nil, nil, errors.New("no pattern loader configured")
	}
	cat, err := l.LoadAll()
	if err != nil {
		return nil, nil, nil, err
	}
	if cat == nil || len(cat.Patterns) == 0 {
		return nil, nil, nil, errors.New("pattern loader returned an empty catalogue")
	}
	return cat.Patterns, cat.VerifiedPrograms, cat.BlocklistedPrograms, nil
}

// FileLoader reads the catalogue from a YAML file. The threat-feed
// pipeline writes this file; the external scheduler then triggers a
// reload.
type FileLoader struct {
	Path string
}

func (f *FileLoader) LoadAll() (*Catalogue, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read pattern file %s: %w", f.Path, err)
	}
	var cat Catalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse pattern file %s: %w", f.Path, err)
	}
	return &cat, nil
}

// StaticLoader serves a fixed in-memory catalogue. Used for the builtin
// set and in tests.
type StaticLoader struct {
	Catalogue *Catalogue
}

func (s *StaticLoader) LoadAll() (*Catalogue, error) {
	if s.Catalogue == nil {
		return nil, errors.New("static loader has no catalogue")
	}
	return s.Catalogue, nil
}
