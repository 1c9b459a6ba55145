package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/KevinKickass/PinBridge/internal/types"
)

func testMachine() *types.MachineDefinition {
	return &types.MachineDefinition{
		Machine: types.MachineInfo{ID: "m"},
		Switches: []types.SwitchDefinition{
			{ID: "7"},
			{ID: "42"},
			{ID: "07"},
			{ID: "slam_tilt", NormallyClosed: true},
			{ID: "15", NormallyClosed: true},
		},
		Coils: []types.CoilDefinition{{ID: "3"}, {ID: "left_flipper"}},
		Lamps: []types.LampDefinition{{ID: "11"}, {ID: "120"}},
		Aliases: []types.Alias{
			{Slot: -6, ID: "07", Kind: types.KindSwitch},
			{Slot: -7, ID: "slam_tilt", Kind: types.KindSwitch},
			{Slot: 47, ID: "left_flipper", Kind: types.KindCoil},
		},
	}
}

func TestPaddedFormsResolveToSameSlot(t *testing.T) {
	for n := 0; n < 100; n++ {
		def := &types.MachineDefinition{
			Switches: []types.SwitchDefinition{{ID: types.DeviceID(fmt.Sprint(n))}},
		}
		tbl := Build(def)

		forms := []string{fmt.Sprint(n), "0" + fmt.Sprint(n)}
		if n < 10 {
			forms = append(forms, "00"+fmt.Sprint(n))
		}
		for _, f := range forms {
			slot, ok := tbl.SwitchSlot(types.DeviceID(f))
			if !ok || slot != types.Slot(n) {
				t.Fatalf("switch %q: expected slot %d, got %d (found=%v)", f, n, slot, ok)
			}
		}
	}
}

func TestCoilsAndLampsNotPadded(t *testing.T) {
	tbl := Build(&types.MachineDefinition{
		Coils: []types.CoilDefinition{{ID: "7"}, {ID: "42"}},
		Lamps: []types.LampDefinition{{ID: "7"}, {ID: "42"}},
	})
	for name, lookup := range map[string]func(types.DeviceID) (types.Slot, bool){
		"coil": tbl.CoilSlot,
		"lamp": tbl.LampSlot,
	} {
		if slot, ok := lookup("7"); !ok || slot != 7 {
			t.Fatalf("%s 7: expected slot 7, got %d (found=%v)", name, slot, ok)
		}
		if slot, ok := lookup("42"); !ok || slot != 42 {
			t.Fatalf("%s 42: expected slot 42, got %d (found=%v)", name, slot, ok)
		}
		for _, id := range []types.DeviceID{"07", "007", "042"} {
			if _, ok := lookup(id); ok {
				t.Fatalf("%s %q: expected padded form to be unresolved", name, id)
			}
		}
	}
}

func TestPaddingNotExtended(t *testing.T) {
	tbl := Build(&types.MachineDefinition{
		Switches: []types.SwitchDefinition{{ID: "42"}, {ID: "120"}, {ID: "-3"}},
	})
	for _, id := range []types.DeviceID{"0042", "0120", "120a", "0-3"} {
		if _, ok := tbl.SwitchSlot(id); ok {
			t.Fatalf("expected %q to be unresolved", id)
		}
	}
	if slot, ok := tbl.SwitchSlot("-3"); !ok || slot != -3 {
		t.Fatalf("expected -3 to resolve to -3, got %d", slot)
	}
}

func TestAliasTakesPrecedence(t *testing.T) {
	r := New()
	r.Rebuild(testMachine())

	slot, ok := r.SwitchSlot("07")
	if !ok || slot != -6 {
		t.Fatalf("expected alias slot -6 for 07, got %d", slot)
	}
	// "7" still resolves numerically, and its padded form does not displace the alias.
	slot, ok = r.SwitchSlot("7")
	if !ok || slot != 7 {
		t.Fatalf("expected slot 7 for 7, got %d", slot)
	}
	if id, _ := r.SwitchID(-6); id != "07" {
		t.Fatalf("expected reverse lookup 07, got %q", id)
	}
	if slot, _ := r.CoilSlot("left_flipper"); slot != 47 {
		t.Fatalf("expected coil alias 47, got %d", slot)
	}
	if id, _ := r.CoilID(47); id != "left_flipper" {
		t.Fatalf("expected left_flipper, got %q", id)
	}
}

func TestAliasOwnsReverseSlot(t *testing.T) {
	tbl := Build(&types.MachineDefinition{
		Coils:   []types.CoilDefinition{{ID: "28"}, {ID: "game_on"}},
		Aliases: []types.Alias{{Slot: 28, ID: "game_on", Kind: types.KindCoil}},
	})
	if id, _ := tbl.CoilID(28); id != "game_on" {
		t.Fatalf("expected slot 28 to report game_on, got %q", id)
	}
	if slot, ok := tbl.CoilSlot("28"); !ok || slot != 28 {
		t.Fatalf("expected numeric 28 still resolvable, got %d", slot)
	}
}

func TestUnresolvedIds(t *testing.T) {
	r := New()
	r.Rebuild(testMachine())
	if _, ok := r.SwitchSlot("nope"); ok {
		t.Fatal("expected unresolved switch")
	}
	if _, ok := r.LampSlot("120x"); ok {
		t.Fatal("expected unresolved lamp")
	}
	if slot, ok := r.LampSlot("120"); !ok || slot != 120 {
		t.Fatalf("expected lamp 120, got %d", slot)
	}
}

func TestRebuildIsIdempotentAndTotal(t *testing.T) {
	def := testMachine()
	a := Build(def)
	b := Build(def)
	for _, sw := range def.Switches {
		sa, oka := a.SwitchSlot(sw.ID)
		sb, okb := b.SwitchSlot(sw.ID)
		if !oka || !okb || sa != sb {
			t.Fatalf("switch %q: unstable resolution %d/%d", sw.ID, sa, sb)
		}
	}
	for _, al := range def.Aliases {
		var ok bool
		switch al.Kind {
		case types.KindSwitch:
			_, ok = a.SwitchSlot(al.ID)
		case types.KindCoil:
			_, ok = a.CoilSlot(al.ID)
		}
		if !ok {
			t.Fatalf("alias %s missing", al)
		}
	}
}

func TestRebuildReplacesTables(t *testing.T) {
	r := New()
	r.Rebuild(testMachine())
	r.Rebuild(&types.MachineDefinition{Switches: []types.SwitchDefinition{{ID: "99"}}})

	if _, ok := r.SwitchSlot("07"); ok {
		t.Fatal("expected stale alias to be gone")
	}
	if _, ok := r.SwitchSlot("099"); !ok {
		t.Fatal("expected 099 in new table")
	}
	r.Rebuild(nil)
	if _, ok := r.SwitchSlot("99"); ok {
		t.Fatal("expected empty registry")
	}
}

func TestNormallyClosed(t *testing.T) {
	tbl := Build(testMachine())
	got := tbl.NormallyClosed()
	if len(got) != 2 || got[0] != -7 || got[1] != 15 {
		t.Fatalf("expected [-7 15], got %v", got)
	}
}

func TestConcurrentReadsDuringRebuild(t *testing.T) {
	r := New()
	def := testMachine()
	r.Rebuild(def)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				tbl := r.Tables()
				if s, ok := tbl.SwitchSlot("07"); ok && s != -6 {
					t.Errorf("expected -6, got %d", s)
					return
				}
			}
		}()
	}
	for j := 0; j < 100; j++ {
		r.Rebuild(def)
	}
	wg.Wait()
}
