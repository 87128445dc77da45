package gamedata

import (
	"os"
	"path/filepath"
	"testing"
)

func testProvider() *Provider {
	return New(
		[]Skill{
			{ID: 11020000, Name: "Strike", ClassID: 11},
			{ID: 11020100, Name: "Strike II", ClassID: 11, GroupID: 11020000},
			{ID: 16010000, Name: "Spirit Attack", ClassID: 16, IsEntity: true},
			{ID: 19000001, Name: "Classless", ClassID: 19},
		},
		[]Class{
			{ID: 11, Name: "Gladiator"},
			{ID: 16, Name: "Spiritmaster"},
		},
		[]int{0, 10, 20, 120},
	)
}

func TestInferOriginal(t *testing.T) {
	p := testProvider()
	cases := []struct {
		code int
		want int
	}{
		{11020000, 11020000},
		{11020010, 11020000},
		{11020120, 11020100},
		{11020005, 11020005},
		{16010020, 16010000},
	}
	for _, tc := range cases {
		if got := p.InferOriginal(tc.code); got != tc.want {
			t.Errorf("InferOriginal(%d) = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestSkillByCodeFollowsGroup(t *testing.T) {
	p := testProvider()

	sk := p.SkillByCode(11020110)
	if sk == nil || sk.ID != 11020000 {
		t.Fatalf("SkillByCode(11020110) = %+v, want group skill 11020000", sk)
	}
	if sk.Icon != "/Assets/Skills/11020000.png" {
		t.Fatalf("icon = %q", sk.Icon)
	}
	if p.SkillByCode(12345678) != nil {
		t.Fatalf("unknown code resolved")
	}
}

func TestDefaults(t *testing.T) {
	p := testProvider()

	if got := p.SkillOrDefault(11020010).Name; got != "Strike" {
		t.Fatalf("SkillOrDefault known = %q", got)
	}
	if got := p.SkillOrDefault(12345678).Name; got != "Unknown Skill (12345678)" {
		t.Fatalf("SkillOrDefault unknown = %q", got)
	}
	if got := p.ClassOrDefault(99).Name; got != "Unknown Class (99)" {
		t.Fatalf("ClassOrDefault unknown = %q", got)
	}
}

func TestClassBySkillCode(t *testing.T) {
	p := testProvider()
	c := p.ClassBySkillCode(11020010)
	if c == nil || c.Name != "Gladiator" {
		t.Fatalf("ClassBySkillCode = %+v", c)
	}
	if p.ClassBySkillCode(19000001) != nil {
		t.Fatalf("class 19 is not in the table")
	}
}

func TestSkillClassID(t *testing.T) {
	p := testProvider()
	if id, ok := p.SkillClassID(16010000); !ok || id != 16 {
		t.Fatalf("SkillClassID(16010000) = %d, %v", id, ok)
	}
	if _, ok := p.SkillClassID(19000001); ok {
		t.Fatalf("skill without a known class reported a class")
	}
	if _, ok := p.SkillClassID(11111111); ok {
		t.Fatalf("unknown skill reported a class")
	}
}

func TestLoadCaseInsensitiveKeys(t *testing.T) {
	dir := t.TempDir()
	skills := `{"Skills":[{"ID":11020000,"Name":"Strike","ClassId":11,"GroupId":0,"IsEntity":false}],"SkillCodeOffsets":[0,10]}`
	classes := `{"Classes":[{"Id":11,"Name":"Gladiator","Icon":"g.png"}]}`
	if err := os.WriteFile(filepath.Join(dir, SkillsFile), []byte(skills), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ClassesFile), []byte(classes), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sk := p.SkillByCode(11020010); sk == nil || sk.Name != "Strike" {
		t.Fatalf("skill not loaded: %+v", sk)
	}
	if len(p.Offsets()) != 2 {
		t.Fatalf("offsets = %v", p.Offsets())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("Load on empty dir succeeded")
	}
}

func TestLoadBundledTables(t *testing.T) {
	p, err := Load(filepath.Join("..", "..", "data"))
	if err != nil {
		t.Fatalf("Load bundled data: %v", err)
	}
	if _, ok := p.SkillClassID(11020010); !ok {
		t.Fatalf("bundled tables do not resolve 11020010")
	}
}
