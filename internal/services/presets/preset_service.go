// Package presets loads named pipeline request presets from a directory
// of TOML and YAML files. The file base name is the preset name.
package presets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/cursus/internal/models"
)

// Service holds the loaded presets
type Service struct {
	mu      sync.RWMutex
	presets map[string]models.JobRequest
	logger  arbor.ILogger
}

// NewService creates an empty preset service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		presets: make(map[string]models.JobRequest),
		logger:  logger,
	}
}

// LoadDir loads every .toml/.yaml/.yml file in dir as a preset. Files
// that fail to parse are skipped with a warning so one bad preset does
// not take down the rest.
func (s *Service) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read presets directory %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".toml" && ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		raw, err := parsePresetFile(path, ext)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("path", path).
				Msg("Skipping unparseable preset file")
			continue
		}

		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		req := models.SanitizeRequest(raw)
		if req.Preset() == "" {
			req["preset"] = name
		}

		s.mu.Lock()
		s.presets[name] = req
		s.mu.Unlock()
		loaded++
	}

	s.logger.Info().
		Str("dir", dir).
		Int("count", loaded).
		Msg("Loaded request presets")

	return nil
}

// Get returns the preset by name
func (s *Service) Get(name string) (models.JobRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.presets[name]
	if !ok {
		return nil, false
	}
	return req.Clone(), true
}

// List returns the sorted preset names
func (s *Service) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.presets))
	for name := range s.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parsePresetFile(path, ext string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preset file: %w", err)
	}

	raw := make(map[string]interface{})
	switch ext {
	case ".toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse TOML preset: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML preset: %w", err)
		}
	}
	return raw, nil
}
