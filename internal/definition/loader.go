// Package definition stores workflow definitions, validates their step
// graphs, and loads seed definitions from YAML files.
package definition

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/cartable/internal/adapter"
	"github.com/pitabwire/cartable/model"
)

// SeedFile is the root structure of a definition seed file.
type SeedFile struct {
	Workflows []model.WorkflowDefinition `yaml:"workflows"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-"`
}

// Loader scans directories for YAML seed files and parses them. Steps
// without a tag get one inferred from their legacy display title.
type Loader struct{}

// NewLoader creates a new definition Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and
// returns every workflow they declare.
func (l *Loader) LoadAll(directories []string) ([]model.WorkflowDefinition, error) {
	var defs []model.WorkflowDefinition

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			file, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			defs = append(defs, file.Workflows...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return defs, nil
}

// LoadFile loads and parses a single seed file.
func (l *Loader) LoadFile(path string) (SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return SeedFile{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	for i := range file.Workflows {
		adapter.InferTags(&file.Workflows[i])
	}

	file.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	file.SourceFile = path
	return file, nil
}

// Seed validates the whole batch and then saves every definition. Nothing
// is written when any definition is invalid.
func Seed(ctx context.Context, store *Store, defs []model.WorkflowDefinition, logger *zap.Logger) error {
	if err := AsError(NewValidator().ValidateAll(defs)); err != nil {
		return fmt.Errorf("seed definitions: %w", err)
	}
	for _, def := range defs {
		if _, err := store.Save(ctx, def); err != nil {
			return fmt.Errorf("seed definition %q: %w", def.ID, err)
		}
		logger.Info("definition seeded",
			zap.String("definition_id", def.ID),
			zap.String("module", def.Module),
			zap.Bool("active", def.IsActive),
			zap.Int("steps", len(def.Steps)),
		)
	}
	return nil
}
