package ruleset

import (
	"fmt"
	"io/fs"
	"math"
	"os"
	"sort"

	"github.com/cory-johannsen/gymguild/content"
	"github.com/cory-johannsen/gymguild/internal/game/progression"
)

// DefaultDifficulty is used when a quest names no difficulty and the rules
// file does not override it.
const DefaultDifficulty = "medium"

// DamageRules holds the raid damage constants.
type DamageRules struct {
	BaseDamage  int `yaml:"base_damage"`
	StatDivisor int `yaml:"stat_divisor"`
}

type rulesFile struct {
	Difficulties      map[string]float64 `yaml:"difficulties"`
	DefaultDifficulty string             `yaml:"default_difficulty"`
	Damage            DamageRules        `yaml:"damage"`
}

type levelsFile struct {
	Levels []progression.Tier `yaml:"levels"`
}

// Ruleset is the immutable configuration the engine runs against.
// It is safe for concurrent use once loaded.
type Ruleset struct {
	races             map[string]*Race
	classes           map[string]*Class
	questTypes        map[string]*QuestType
	difficulties      map[string]float64
	defaultDifficulty string
	damage            DamageRules
	curve             *progression.Curve
}

// Load reads a ruleset laid out as races/, classes/, quest_types/,
// rules.yaml and levels.yaml at the root of fsys.
//
// Precondition: fsys must be non-nil.
// Postcondition: Returns a validated Ruleset or a non-nil error naming the offending file.
func Load(fsys fs.FS) (*Ruleset, error) {
	races, err := LoadRaces(fsys, "races")
	if err != nil {
		return nil, err
	}
	classes, err := LoadClasses(fsys, "classes")
	if err != nil {
		return nil, err
	}
	questTypes, err := LoadQuestTypes(fsys, "quest_types")
	if err != nil {
		return nil, err
	}
	var rf rulesFile
	if err := decodeFile(fsys, "rules.yaml", &rf); err != nil {
		return nil, fmt.Errorf("parsing rules.yaml: %w", err)
	}
	var lf levelsFile
	if err := decodeFile(fsys, "levels.yaml", &lf); err != nil {
		return nil, fmt.Errorf("parsing levels.yaml: %w", err)
	}
	curve, err := progression.NewCurve(lf.Levels)
	if err != nil {
		return nil, fmt.Errorf("levels.yaml: %w", err)
	}
	return New(races, classes, questTypes, rf.Difficulties, rf.DefaultDifficulty, rf.Damage, curve)
}

// LoadDir loads a ruleset from a directory on disk.
func LoadDir(dir string) (*Ruleset, error) {
	rs, err := Load(os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("loading ruleset from %s: %w", dir, err)
	}
	return rs, nil
}

// Default loads the ruleset embedded in the binary.
//
// Postcondition: Returns the reference ruleset or a non-nil error if the embedded content is malformed.
func Default() (*Ruleset, error) {
	return Load(content.FS)
}

// New assembles and validates a Ruleset from already-parsed parts.
// An empty defaultDifficulty falls back to DefaultDifficulty.
//
// Precondition: curve must be non-nil.
// Postcondition: Returns a Ruleset or an error describing the first violation.
func New(
	races []*Race,
	classes []*Class,
	questTypes []*QuestType,
	difficulties map[string]float64,
	defaultDifficulty string,
	damage DamageRules,
	curve *progression.Curve,
) (*Ruleset, error) {
	if curve == nil {
		return nil, fmt.Errorf("ruleset: level curve must not be nil")
	}
	rs := &Ruleset{
		races:             make(map[string]*Race, len(races)),
		classes:           make(map[string]*Class, len(classes)),
		questTypes:        make(map[string]*QuestType, len(questTypes)),
		difficulties:      make(map[string]float64, len(difficulties)),
		defaultDifficulty: defaultDifficulty,
		damage:            damage,
		curve:             curve,
	}
	for _, r := range races {
		if _, dup := rs.races[r.ID]; dup {
			return nil, fmt.Errorf("ruleset: duplicate race %q", r.ID)
		}
		rs.races[r.ID] = r
	}
	for _, c := range classes {
		if _, dup := rs.classes[c.ID]; dup {
			return nil, fmt.Errorf("ruleset: duplicate class %q", c.ID)
		}
		rs.classes[c.ID] = c
	}
	for _, qt := range questTypes {
		if _, dup := rs.questTypes[qt.ID]; dup {
			return nil, fmt.Errorf("ruleset: duplicate quest type %q", qt.ID)
		}
		rs.questTypes[qt.ID] = qt
	}
	if len(rs.races) == 0 || len(rs.classes) == 0 || len(rs.questTypes) == 0 {
		return nil, fmt.Errorf("ruleset: races, classes and quest types must each be non-empty")
	}
	for id, m := range difficulties {
		if m <= 0 {
			return nil, fmt.Errorf("ruleset: difficulty %q multiplier must be positive, got %v", id, m)
		}
		rs.difficulties[id] = m
	}
	if rs.defaultDifficulty == "" {
		rs.defaultDifficulty = DefaultDifficulty
	}
	if len(rs.difficulties) == 0 {
		rs.difficulties[rs.defaultDifficulty] = 1.0
	}
	if _, ok := rs.difficulties[rs.defaultDifficulty]; !ok {
		return nil, fmt.Errorf("ruleset: default difficulty %q is not defined", rs.defaultDifficulty)
	}
	if damage.BaseDamage <= 0 || damage.StatDivisor <= 0 {
		return nil, fmt.Errorf("ruleset: damage base_damage and stat_divisor must be positive, got %d and %d",
			damage.BaseDamage, damage.StatDivisor)
	}
	return rs, nil
}

// Race returns the race template for id.
//
// Postcondition: Returns an error wrapping ErrInvalidTemplate if id is unknown.
func (rs *Ruleset) Race(id string) (*Race, error) {
	r, ok := rs.races[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown race %q", ErrInvalidTemplate, id)
	}
	return r, nil
}

// Class returns the class template for id.
//
// Postcondition: Returns an error wrapping ErrInvalidTemplate if id is unknown.
func (rs *Ruleset) Class(id string) (*Class, error) {
	c, ok := rs.classes[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown class %q", ErrInvalidTemplate, id)
	}
	return c, nil
}

// QuestType returns the quest type for id.
//
// Postcondition: Returns an error wrapping ErrInvalidTemplate if id is unknown.
func (rs *Ruleset) QuestType(id string) (*QuestType, error) {
	qt, ok := rs.questTypes[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown quest type %q", ErrInvalidTemplate, id)
	}
	return qt, nil
}

// Races returns all race templates ordered by id.
func (rs *Ruleset) Races() []*Race {
	out := make([]*Race, 0, len(rs.races))
	for _, r := range rs.races {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Classes returns all class templates ordered by id.
func (rs *Ruleset) Classes() []*Class {
	out := make([]*Class, 0, len(rs.classes))
	for _, c := range rs.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// QuestTypes returns all quest types ordered by id.
func (rs *Ruleset) QuestTypes() []*QuestType {
	out := make([]*QuestType, 0, len(rs.questTypes))
	for _, qt := range rs.questTypes {
		out = append(out, qt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Difficulty resolves a difficulty id to its canonical id and multiplier.
// An empty id selects the default difficulty.
//
// Postcondition: Returns an error wrapping ErrInvalidTemplate if id is unknown.
func (rs *Ruleset) Difficulty(id string) (string, float64, error) {
	if id == "" {
		id = rs.defaultDifficulty
	}
	m, ok := rs.difficulties[id]
	if !ok {
		return "", 0, fmt.Errorf("%w: unknown difficulty %q", ErrInvalidTemplate, id)
	}
	return id, m, nil
}

// QuestReward computes the fixed XP reward for a quest of questType at
// difficulty: round(base_xp × multiplier), never below 1.
//
// Postcondition: Returns a positive reward or an error wrapping ErrInvalidTemplate.
func (rs *Ruleset) QuestReward(questType, difficulty string) (int, error) {
	qt, err := rs.QuestType(questType)
	if err != nil {
		return 0, err
	}
	_, m, err := rs.Difficulty(difficulty)
	if err != nil {
		return 0, err
	}
	reward := int(math.Round(float64(qt.BaseXP) * m))
	if reward < 1 {
		reward = 1
	}
	return reward, nil
}

// Damage returns the raid damage constants.
func (rs *Ruleset) Damage() DamageRules {
	return rs.damage
}

// Curve returns the level curve.
func (rs *Ruleset) Curve() *progression.Curve {
	return rs.curve
}
