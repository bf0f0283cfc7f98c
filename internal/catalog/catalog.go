package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed problems.yaml
var embeddedProblems []byte

// DefaultProblemID is assigned to rooms whose difficulty has no matching problem.
const DefaultProblemID = 1

// SampleCaseCount is how many fixture cases are revealed to clients.
const SampleCaseCount = 2

var ErrNoTestCases = errors.New("test cases not found for this problem")

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// ParseDifficulty reports whether s names a known tier.
func ParseDifficulty(s string) (Difficulty, bool) {
	switch d := Difficulty(s); d {
	case Easy, Medium, Hard:
		return d, true
	}
	return "", false
}

// Points is the canonical award table. Unrecognised tiers are worth nothing.
func Points(d Difficulty) int {
	switch d {
	case Easy:
		return 10
	case Medium:
		return 25
	case Hard:
		return 50
	default:
		return 0
	}
}

// TestCase is one hidden fixture. Only the fields relevant to the problem's
// harness kind are populated.
type TestCase struct {
	Nums     []int    `yaml:"nums,omitempty" json:"nums,omitempty"`
	Target   *int     `yaml:"target,omitempty" json:"target,omitempty"`
	Chars    []string `yaml:"chars,omitempty" json:"chars,omitempty"`
	S        *string  `yaml:"s,omitempty" json:"s,omitempty"`
	X        *int     `yaml:"x,omitempty" json:"x,omitempty"`
	Expected any      `yaml:"expected" json:"expected"`
}

// MarshalJSON sends character arrays under "s", the key clients read for
// string inputs of either shape.
func (tc TestCase) MarshalJSON() ([]byte, error) {
	type plain TestCase
	if tc.Chars == nil {
		return json.Marshal(plain(tc))
	}
	p := plain(tc)
	p.Chars = nil
	return json.Marshal(struct {
		plain
		Chars []string `json:"s"`
	}{p, tc.Chars})
}

type Problem struct {
	ID          int        `yaml:"id" json:"id"`
	Title       string     `yaml:"title" json:"title"`
	Difficulty  Difficulty `yaml:"difficulty" json:"difficulty"`
	Function    string     `yaml:"function" json:"function,omitempty"`
	Harness     string     `yaml:"harness" json:"-"`
	Description string     `yaml:"description" json:"description"`
	Examples    string     `yaml:"examples" json:"examples"`
	Template    string     `yaml:"template" json:"template,omitempty"`
	Cases       []TestCase `yaml:"cases" json:"-"`
}

// Points returns the award for solving p.
func (p Problem) Points() int {
	return Points(p.Difficulty)
}

// Catalog is a read-only view of the problem set.
type Catalog struct {
	problems []Problem
	byID     map[int]int
}

// Load parses the embedded problem set.
func Load() (*Catalog, error) {
	return Parse(embeddedProblems)
}

// MustLoad is Load for process start-up and tests.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Problems []Problem `yaml:"problems"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{byID: make(map[int]int, len(doc.Problems))}
	for _, p := range doc.Problems {
		if _, ok := ParseDifficulty(string(p.Difficulty)); !ok {
			return nil, fmt.Errorf("problem %d: unknown difficulty %q", p.ID, p.Difficulty)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("problem %d: duplicate id", p.ID)
		}
		if len(p.Cases) > 0 {
			if _, ok := harnessKinds[p.Harness]; !ok {
				return nil, fmt.Errorf("problem %d: unknown harness %q", p.ID, p.Harness)
			}
		}
		c.byID[p.ID] = len(c.problems)
		c.problems = append(c.problems, p)
	}
	sort.SliceStable(c.problems, func(i, j int) bool { return c.problems[i].ID < c.problems[j].ID })
	for i, p := range c.problems {
		c.byID[p.ID] = i
	}
	return c, nil
}

func (c *Catalog) Get(id int) (Problem, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Problem{}, false
	}
	return c.problems[i], true
}

func (c *Catalog) All() []Problem {
	out := make([]Problem, len(c.problems))
	copy(out, c.problems)
	return out
}

// IDsByDifficulty returns problem ids of the given tier in ascending order.
func (c *Catalog) IDsByDifficulty(d Difficulty) []int {
	var ids []int
	for _, p := range c.problems {
		if p.Difficulty == d {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// DifficultyOf returns the tier of a problem, or "" when the id is unknown.
func (c *Catalog) DifficultyOf(id int) Difficulty {
	p, ok := c.Get(id)
	if !ok {
		return ""
	}
	return p.Difficulty
}

// TestCases returns the full hidden fixture of a problem.
func (c *Catalog) TestCases(id int) ([]TestCase, error) {
	p, ok := c.Get(id)
	if !ok || len(p.Cases) == 0 {
		return nil, ErrNoTestCases
	}
	return p.Cases, nil
}

// SampleCases returns the first few cases and the fixture size.
func (c *Catalog) SampleCases(id int) ([]TestCase, int, error) {
	cases, err := c.TestCases(id)
	if err != nil {
		return nil, 0, err
	}
	n := SampleCaseCount
	if n > len(cases) {
		n = len(cases)
	}
	return cases[:n], len(cases), nil
}
