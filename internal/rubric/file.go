package rubric

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/callq/internal/calls"
)

// File is the YAML layout of a local rubric:
//
//	criteria:
//	  - category: Приветствие
//	    indicator: Представился
//	    max_score: 5
//	    conditions: 5 если назвал имя и компанию
//	instructions:
//	  - Оценивай только реплики оператора.
type File struct {
	Criteria     []calls.Criterion `yaml:"criteria"`
	Instructions []string          `yaml:"instructions"`
}

// FileSource serves a rubric parsed once from disk.
type FileSource struct {
	file File
}

// LoadFile reads and validates a YAML rubric.
func LoadFile(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rubric file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rubric file %s: %w", path, err)
	}
	if len(f.Criteria) == 0 {
		return nil, fmt.Errorf("rubric file %s has no criteria", path)
	}
	for i, c := range f.Criteria {
		if strings.TrimSpace(c.Indicator) == "" {
			return nil, fmt.Errorf("rubric file %s: criterion %d has no indicator", path, i+1)
		}
	}
	return &FileSource{file: f}, nil
}

func (s *FileSource) FetchRubric(context.Context) (calls.Rubric, error) {
	return calls.Rubric{Criteria: s.file.Criteria}, nil
}

func (s *FileSource) FetchInstructions(context.Context) ([]string, error) {
	return s.file.Instructions, nil
}
