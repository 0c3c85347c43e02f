package definition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// file is the YAML layout: either a list under definitions or a single definition
type file struct {
	Definitions []*entity.WorkflowDefinition `yaml:"definitions"`
}

// Decode reads every definition from a YAML stream. Multiple documents are allowed.
func Decode(r io.Reader) ([]*entity.WorkflowDefinition, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions: %w", err)
	}

	var defs []*entity.WorkflowDefinition
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse definitions: %w", err)
		}

		var f file
		if err := node.Decode(&f); err == nil && len(f.Definitions) > 0 {
			defs = append(defs, f.Definitions...)
			continue
		}

		var single entity.WorkflowDefinition
		if err := node.Decode(&single); err != nil {
			return nil, fmt.Errorf("failed to decode definition: %w", err)
		}
		if single.WorkflowType == "" {
			return nil, fmt.Errorf("definition document without workflowType")
		}
		defs = append(defs, &single)
	}
	return defs, nil
}

// LoadPath reads definitions from a YAML file or every *.yaml / *.yml file of a directory
func LoadPath(path string) ([]*entity.WorkflowDefinition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read dir %s: %w", path, err)
		}
		files = files[:0]
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
		sort.Strings(files)
	}

	var defs []*entity.WorkflowDefinition
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		loaded, err := Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defs = append(defs, loaded...)
	}
	return defs, nil
}

// Seed publishes the definitions found at path. Definitions identical to the
// active version are skipped, so seeding is safe on every start.
func Seed(ctx context.Context, s Store, path string, logger *zap.Logger) (int, error) {
	defs, err := LoadPath(path)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, def := range defs {
		if _, err := s.Publish(ctx, def); err != nil {
			if errors.Is(err, ErrDuplicateDefinition) {
				logger.Debug("Definition unchanged, skipping", zap.String("workflow_type", def.WorkflowType))
				continue
			}
			return published, fmt.Errorf("failed to publish %s: %w", def.WorkflowType, err)
		}
		published++
	}
	return published, nil
}
