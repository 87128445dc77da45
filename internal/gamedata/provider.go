// Package gamedata loads the static skill and class reference tables and
// resolves the offset variants of skill codes seen on the wire.
package gamedata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aionmeter/aionmeter/internal/util"
)

const (
	SkillsFile  = "skills.json"
	ClassesFile = "classes.json"
)

// Skill describes one skill from the reference table.
type Skill struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Icon     string `json:"icon,omitempty"`
	ClassID  int    `json:"classId"`
	GroupID  int    `json:"groupId"`
	IsEntity bool   `json:"isEntity"`
}

// Class describes one character class.
type Class struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

type skillsFile struct {
	Skills           []Skill `json:"skills"`
	SkillCodeOffsets []int   `json:"skillCodeOffsets"`
}

type classesFile struct {
	Classes []Class `json:"classes"`
}

// Provider is the immutable lookup table built from skills.json and classes.json.
type Provider struct {
	skills    map[int]*Skill
	classes   map[int]*Class
	sortedIDs []int
	offsets   []int
	logger    zerolog.Logger
}

// Load reads both reference files from dir.
func Load(dir string) (*Provider, error) {
	var classes classesFile
	if err := readJSON(filepath.Join(dir, ClassesFile), &classes); err != nil {
		return nil, fmt.Errorf("failed to load classes: %w", err)
	}

	var skills skillsFile
	if err := readJSON(filepath.Join(dir, SkillsFile), &skills); err != nil {
		return nil, fmt.Errorf("failed to load skills: %w", err)
	}

	p := New(skills.Skills, classes.Classes, skills.SkillCodeOffsets)
	p.logger.Info().
		Str("dir", dir).
		Int("skills", len(p.skills)).
		Int("classes", len(p.classes)).
		Int("offsets", len(p.offsets)).
		Msg("reference tables loaded")

	return p, nil
}

// New builds a provider from in-memory tables.
func New(skills []Skill, classes []Class, offsets []int) *Provider {
	p := &Provider{
		skills:  make(map[int]*Skill, len(skills)),
		classes: make(map[int]*Class, len(classes)),
		offsets: append([]int(nil), offsets...),
		logger:  util.ComponentLogger("gamedata"),
	}

	for i := range classes {
		c := classes[i]
		p.classes[c.ID] = &c
	}

	for i := range skills {
		s := skills[i]
		s.Icon = fmt.Sprintf("/Assets/Skills/%d.png", s.ID)
		p.skills[s.ID] = &s
	}

	p.sortedIDs = make([]int, 0, len(p.skills))
	for id := range p.skills {
		p.sortedIDs = append(p.sortedIDs, id)
	}
	sort.Ints(p.sortedIDs)

	return p
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// InferOriginal maps an observed skill code to its canonical id by trying
// each known offset. Unknown codes are returned unchanged.
func (p *Provider) InferOriginal(code int) int {
	for _, offset := range p.offsets {
		candidate := code - offset
		i := sort.SearchInts(p.sortedIDs, candidate)
		if i < len(p.sortedIDs) && p.sortedIDs[i] == candidate {
			return candidate
		}
	}
	return code
}

// SkillByCode resolves an observed code to its skill, following groupId to
// the group skill. Returns nil when unknown.
func (p *Provider) SkillByCode(code int) *Skill {
	sk, ok := p.skills[p.InferOriginal(code)]
	if !ok {
		return nil
	}
	if sk.GroupID != 0 {
		return p.skills[sk.GroupID]
	}
	return sk
}

// SkillOrDefault returns the canonical skill or a placeholder named after the code.
func (p *Provider) SkillOrDefault(code int) *Skill {
	original := p.InferOriginal(code)
	if sk, ok := p.skills[original]; ok {
		return sk
	}
	return &Skill{ID: original, Name: fmt.Sprintf("Unknown Skill (%d)", original)}
}

// Class returns the class with the given id, or nil.
func (p *Provider) Class(id int) *Class {
	return p.classes[id]
}

// ClassBySkillCode derives the owning class from the canonical skill code.
func (p *Provider) ClassBySkillCode(code int) *Class {
	return p.classes[p.InferOriginal(code)/1000000]
}

// ClassOrDefault returns the class or a placeholder.
func (p *Provider) ClassOrDefault(id int) *Class {
	if c, ok := p.classes[id]; ok {
		return c
	}
	return &Class{ID: id, Name: fmt.Sprintf("Unknown Class (%d)", id)}
}

// SkillClassID reports the class owning a skill code. Both the skill and
// the class must exist in the tables.
func (p *Provider) SkillClassID(code int) (int, bool) {
	if p.SkillByCode(code) == nil {
		return 0, false
	}
	c := p.ClassBySkillCode(code)
	if c == nil {
		return 0, false
	}
	return c.ID, true
}

// Offsets returns a copy of the skill code offsets.
func (p *Provider) Offsets() []int {
	return append([]int(nil), p.offsets...)
}

// Skills returns every skill sorted by id.
func (p *Provider) Skills() []Skill {
	out := make([]Skill, 0, len(p.sortedIDs))
	for _, id := range p.sortedIDs {
		out = append(out, *p.skills[id])
	}
	return out
}

// Classes returns every class sorted by id.
func (p *Provider) Classes() []Class {
	out := make([]Class, 0, len(p.classes))
	for _, c := range p.classes {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
