package machines

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/KevinKickass/PinBridge/internal/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const wpcPlatform = `
machine:
  id: wpc
switches:
  - id: "11"
    description: Right flipper button
  - id: "13"
    description: Start button
  - id: "15"
    description: Coin door closed
coils:
  - id: "28"
lamps:
  - id: gi_1
aliases:
  - {slot: -7, id: coin_door_enter, kind: switch}
  - {slot: 0, id: gi_1, kind: lamp}
`

const afmMachine = `
machine:
  id: afm
  name: Attack from Mars
  manufacturer: Bally
  year: 1995
  platform: wpc
roms:
  - id: afm_113b
  - id: afm_113
switches:
  - id: "15"
    description: Coin door closed
    normally_closed: true
  - id: "44"
    description: Saucer home
coils:
  - id: "28"
    description: Saucer motor
mechs:
  - name: saucer
    drive: one_directional_solenoid
    repeat: circle
    solenoid1: "28"
    length: 200
    steps: 100
    marks:
      - {switch: "44", type: switch, begin: 0, end: 5}
`

const tzMachine = `{
  "machine": {"id": "tz", "name": "Twilight Zone"},
  "roms": [{"id": "tz_92"}],
  "switches": [{"id": "16"}]
}`

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testCatalog(t *testing.T) (*Catalog, string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "platforms/wpc.yaml", wpcPlatform)
	writeFile(t, dir, "afm.yaml", afmMachine)
	writeFile(t, dir, "tz.json", tzMachine)
	c, err := NewCatalog([]string{dir}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	return c, dir
}

func TestLookupComposesPlatform(t *testing.T) {
	c, _ := testCatalog(t)
	def, err := c.Lookup("afm")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	var ids []types.DeviceID
	for _, sw := range def.Switches {
		ids = append(ids, sw.ID)
	}
	want := []types.DeviceID{"11", "13", "15", "44"}
	if len(ids) != len(want) {
		t.Fatalf("expected switches %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected switches %v, got %v", want, ids)
		}
	}
	if !def.Switches[2].NormallyClosed {
		t.Fatal("expected machine to replace platform switch 15")
	}
	if len(def.Coils) != 1 || def.Coils[0].Description != "Saucer motor" {
		t.Fatalf("unexpected coils %+v", def.Coils)
	}
	if len(def.Aliases) != 2 || len(def.Lamps) != 1 || len(def.Mechs) != 1 {
		t.Fatal("expected platform aliases and lamps to be inherited")
	}
	if def.Machine.ID != "afm" || len(def.Roms) != 2 {
		t.Fatal("expected machine info from the machine file")
	}
}

func TestLookupByRomID(t *testing.T) {
	c, _ := testCatalog(t)
	def, err := c.Lookup("afm_113")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if def.Machine.ID != "afm" {
		t.Fatalf("expected afm, got %s", def.Machine.ID)
	}
	def, err = c.Lookup("tz_92")
	if err != nil || def.Machine.ID != "tz" {
		t.Fatalf("expected tz from json file, got %v", err)
	}
}

func TestLookupUnknown(t *testing.T) {
	c, _ := testCatalog(t)
	if _, err := c.Lookup("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInvalidFileRejected(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "machine:\n  id: broken\naliases:\n  - {slot: 1, id: x, kind: motor}\n")
	writeFile(t, dir, "tz.json", tzMachine)
	c, err := NewCatalog([]string{dir}, zap.New(core))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Lookup("broken"); err == nil {
		t.Fatal("expected schema error")
	}
	list, err := c.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != "tz" {
		t.Fatalf("expected only tz, got %+v", list)
	}
	if logs.FilterMessage("Skipping invalid machine file").Len() != 1 {
		t.Fatal("expected invalid file to be logged")
	}
}

func TestMissingPlatform(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "afm.yaml", afmMachine)
	c, _ := NewCatalog([]string{dir}, zaptest.NewLogger(t))
	if _, err := c.Lookup("afm"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected missing platform error, got %v", err)
	}
}

func TestPlatformCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "platforms/a.yaml", "machine:\n  id: a\n  platform: b\n")
	writeFile(t, dir, "platforms/b.yaml", "machine:\n  id: b\n  platform: a\n")
	writeFile(t, dir, "m.yaml", "machine:\n  id: m\n  platform: a\n")
	c, _ := NewCatalog([]string{dir}, zaptest.NewLogger(t))
	if _, err := c.Lookup("m"); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestList(t *testing.T) {
	c, _ := testCatalog(t)
	list, err := c.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "afm" || list[1].ID != "tz" {
		t.Fatalf("unexpected list %+v", list)
	}
	if list[0].Year != 1995 || len(list[0].Roms) != 2 {
		t.Fatalf("unexpected summary %+v", list[0])
	}
}

func TestSearchPathShadowing(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeFile(t, first, "tz.json", `{"machine": {"id": "tz", "name": "Local"}}`)
	writeFile(t, second, "tz.json", tzMachine)
	c, _ := NewCatalog([]string{first, second}, zaptest.NewLogger(t))

	def, err := c.Lookup("tz")
	if err != nil {
		t.Fatal(err)
	}
	if def.Machine.Name != "Local" {
		t.Fatalf("expected first search path to win, got %q", def.Machine.Name)
	}
}

func TestClearCache(t *testing.T) {
	c, dir := testCatalog(t)
	if _, err := c.Lookup("tz"); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "tz.json", `{"machine": {"id": "tz", "name": "Edited"}}`)

	def, _ := c.Lookup("tz")
	if def.Machine.Name != "Twilight Zone" {
		t.Fatal("expected cached definition")
	}
	c.ClearCache()
	def, err := c.Lookup("tz")
	if err != nil || def.Machine.Name != "Edited" {
		t.Fatalf("expected reloaded definition, got %v", err)
	}
}

func TestMergeByKey(t *testing.T) {
	got := mergeByKey([]string{"a", "b", "c"}, []string{"b", "d"}, func(s string) string { return s })
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
