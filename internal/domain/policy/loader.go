package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/opsloop/internal/domain"
)

// LoadFromFile reads a single Profile from a YAML file.
func LoadFromFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validate policy file %s: %w", path, err)
	}

	return &p, nil
}

// LoadFromDirectory reads all .yaml/.yml files from a directory in name
// order. A missing directory yields no profiles and no error. Two files
// declaring the same profile name, or a file shadowing a built-in preset,
// is an error.
func LoadFromDirectory(dir string) ([]Profile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read policy directory %s: %w", dir, err)
	}

	var profiles []Profile
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		p, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		if IsPreset(p.Name) {
			return nil, fmt.Errorf("%w: policy file %s redefines built-in profile %q", domain.ErrValidation, path, p.Name)
		}
		if prev, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("%w: profile %q defined in both %s and %s", domain.ErrValidation, p.Name, prev, path)
		}
		seen[p.Name] = path
		profiles = append(profiles, *p)
	}

	return profiles, nil
}
