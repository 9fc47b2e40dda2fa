// Package runbook parses, validates, and registers YAML runbook documents.
// Runbooks are immutable once loaded; updates land under a new version.
package runbook

import (
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/opsgate/opsgate/pkg/models"
)

// Service is the loading pipeline: parse, validate, register.
type Service struct {
	validator *Validator
	registry  *Registry
	logger    *slog.Logger
}

// NewService creates a runbook service over a fresh registry.
func NewService(logger *slog.Logger) *Service {
	return &Service{
		validator: NewValidator(),
		registry:  NewRegistry(),
		logger:    logger.With("component", "runbook"),
	}
}

// Registry exposes the underlying registry for lookups.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Parse decodes one YAML document into a runbook. Unknown fields are
// rejected so typos fail loudly instead of silently weakening a gate.
func Parse(data []byte) (*models.Runbook, error) {
	var rb models.Runbook
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rb); err != nil {
		return nil, fmt.Errorf("parse runbook: %w", err)
	}
	return &rb, nil
}

// Load parses, validates, and registers one runbook document.
func (s *Service) Load(data []byte) (*models.Runbook, error) {
	rb, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Validate(rb); err != nil {
		return nil, err
	}
	if err := s.registry.Register(rb); err != nil {
		return nil, err
	}
	s.logger.Info("Runbook loaded",
		"runbook_id", rb.ID,
		"version", rb.Version,
		"steps", len(rb.Steps),
		"automation_level", string(rb.Config.AutomationLevel))
	return rb, nil
}

// LoadDir loads every .yaml/.yml file under root in the given filesystem.
// The first invalid document aborts the load.
func (s *Service) LoadDir(fsys fs.FS, root string) (int, error) {
	loaded := 0
	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if _, err := s.Load(data); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		loaded++
		return nil
	})
	if err != nil {
		return loaded, err
	}
	s.logger.Info("Runbook directory loaded", "root", root, "count", loaded)
	return loaded, nil
}
