package ruleset

import (
	"fmt"
	"io/fs"
	"strings"
)

// QuestType is a category of self-reported activity with its base XP reward.
//
// Precondition: ID and Name must be non-empty and BaseXP must be positive after loading.
type QuestType struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	BaseXP      int    `yaml:"base_xp"`
}

// LoadQuestTypes reads every .yaml file in dir of fsys as a QuestType.
//
// Precondition: dir must be a readable directory within fsys.
// Postcondition: Returns all parsed quest types (may be empty) or a non-nil error.
func LoadQuestTypes(fsys fs.FS, dir string) ([]*QuestType, error) {
	files, err := yamlFiles(fsys, dir)
	if err != nil {
		return nil, err
	}
	types := make([]*QuestType, 0, len(files))
	for _, p := range files {
		var qt QuestType
		if err := decodeFile(fsys, p, &qt); err != nil {
			return nil, fmt.Errorf("parsing quest type file %s: %w", p, err)
		}
		if strings.TrimSpace(qt.ID) == "" || strings.TrimSpace(qt.Name) == "" {
			return nil, fmt.Errorf("quest type file %s: id and name must not be empty", p)
		}
		if qt.BaseXP <= 0 {
			return nil, fmt.Errorf("quest type %q: base_xp must be positive, got %d", qt.ID, qt.BaseXP)
		}
		types = append(types, &qt)
	}
	return types, nil
}
