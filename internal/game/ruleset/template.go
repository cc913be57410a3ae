// Package ruleset loads the static game configuration: race and class
// templates, quest types, difficulty multipliers, damage constants and the
// level curve.
package ruleset

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidTemplate is returned when a race, class or quest type id is unknown.
var ErrInvalidTemplate = errors.New("invalid template")

// Attribute names recognised in template bonus maps.
const (
	Strength     = "strength"
	Agility      = "agility"
	Constitution = "constitution"
	Wisdom       = "wisdom"
)

// AttributeNames lists the four attributes in display order.
var AttributeNames = []string{Strength, Agility, Constitution, Wisdom}

// Template is a race or class definition: display data plus an attribute
// bonus map. Attributes absent from Bonuses contribute 0.
//
// Precondition: ID and Name must be non-empty after loading.
type Template struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Bonuses     map[string]int `yaml:"bonuses"`
}

// Bonus returns the template's bonus for attribute, or 0.
func (t *Template) Bonus(attribute string) int {
	return t.Bonuses[attribute]
}

// Race is a character race template.
type Race struct {
	Template `yaml:",inline"`
}

// Class is a character class template.
type Class struct {
	Template `yaml:",inline"`
}

func (t *Template) validate(kind, file string) error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%s file %s: id must not be empty", kind, file)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%s %q: name must not be empty", kind, t.ID)
	}
	for attr := range t.Bonuses {
		if !isAttribute(attr) {
			return fmt.Errorf("%s %q: unknown attribute %q in bonuses", kind, t.ID, attr)
		}
	}
	return nil
}

func isAttribute(name string) bool {
	for _, a := range AttributeNames {
		if a == name {
			return true
		}
	}
	return false
}

// LoadRaces reads every .yaml file in dir of fsys as a Race.
//
// Precondition: dir must be a readable directory within fsys.
// Postcondition: Returns all parsed races (may be empty) or a non-nil error.
func LoadRaces(fsys fs.FS, dir string) ([]*Race, error) {
	files, err := yamlFiles(fsys, dir)
	if err != nil {
		return nil, err
	}
	races := make([]*Race, 0, len(files))
	for _, p := range files {
		var r Race
		if err := decodeFile(fsys, p, &r); err != nil {
			return nil, fmt.Errorf("parsing race file %s: %w", p, err)
		}
		if err := r.validate("race", p); err != nil {
			return nil, err
		}
		races = append(races, &r)
	}
	return races, nil
}

// LoadClasses reads every .yaml file in dir of fsys as a Class.
//
// Precondition: dir must be a readable directory within fsys.
// Postcondition: Returns all parsed classes (may be empty) or a non-nil error.
func LoadClasses(fsys fs.FS, dir string) ([]*Class, error) {
	files, err := yamlFiles(fsys, dir)
	if err != nil {
		return nil, err
	}
	classes := make([]*Class, 0, len(files))
	for _, p := range files {
		var c Class
		if err := decodeFile(fsys, p, &c); err != nil {
			return nil, fmt.Errorf("parsing class file %s: %w", p, err)
		}
		if err := c.validate("class", p); err != nil {
			return nil, err
		}
		classes = append(classes, &c)
	}
	return classes, nil
}

func decodeFile(fsys fs.FS, name string, out any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	return yaml.Unmarshal(data, out)
}

func yamlFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			paths = append(paths, path.Join(dir, name))
		}
	}
	return paths, nil
}
