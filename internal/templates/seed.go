package templates

import (
	"context"
	"fmt"
	"path"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Seed is one template entry in a seed file. Content may be inline or read
// from ContentFile, resolved relative to the seed file.
type Seed struct {
	Name        string       `yaml:"name" json:"name"`
	Type        TemplateType `yaml:"type" json:"type"`
	Content     string       `yaml:"content" json:"content"`
	ContentFile string       `yaml:"content_file" json:"content_file"`
}

type seedFile struct {
	Templates []Seed `yaml:"templates"`
}

// LoadSeeds reads a YAML or JSON seed file of the form
// {"templates": [{name, type, content | content_file}]}.
func LoadSeeds(fs afero.Fs, file string) ([]Seed, error) {
	data, err := afero.ReadFile(fs, file)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", file, err)
	}

	for i := range sf.Templates {
		s := &sf.Templates[i]
		if s.Name == "" {
			return nil, fmt.Errorf("seed %d: name is required", i+1)
		}
		if !s.Type.Valid() {
			return nil, fmt.Errorf("seed %q: invalid template type %q", s.Name, s.Type)
		}
		if s.ContentFile != "" {
			body, err := afero.ReadFile(fs, path.Join(path.Dir(file), s.ContentFile))
			if err != nil {
				return nil, fmt.Errorf("seed %q: %w", s.Name, err)
			}
			s.Content = string(body)
		}
		if s.Content == "" {
			return nil, fmt.Errorf("seed %q: content is required", s.Name)
		}
	}
	return sf.Templates, nil
}

// ApplySeeds creates templates that do not exist yet and updates the
// content and type of those that do, matching by name.
func ApplySeeds(ctx context.Context, repo Repository, seeds []Seed, logger *zap.Logger) (created, updated int, err error) {
	for _, s := range seeds {
		existing, err := repo.GetByName(ctx, s.Name)
		if err != nil {
			return created, updated, fmt.Errorf("failed to look up template %q: %w", s.Name, err)
		}

		if existing == nil {
			t := &Template{Name: s.Name, Type: s.Type, Content: s.Content}
			if err := repo.Create(ctx, t); err != nil {
				return created, updated, fmt.Errorf("failed to create template %q: %w", s.Name, err)
			}
			created++
			logger.Info("Template created",
				zap.String("template_id", t.ID.String()),
				zap.String("name", t.Name),
				zap.Strings("variables", t.Variables))
			continue
		}

		if existing.Content == s.Content && existing.Type == s.Type {
			continue
		}
		existing.Content = s.Content
		existing.Type = s.Type
		if err := repo.Save(ctx, existing); err != nil {
			return created, updated, fmt.Errorf("failed to update template %q: %w", s.Name, err)
		}
		updated++
		logger.Info("Template updated",
			zap.String("template_id", existing.ID.String()),
			zap.String("name", existing.Name),
			zap.Strings("variables", existing.Variables))
	}
	return created, updated, nil
}
