package overclock

import (
	"testing"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	p := Profile{
		Name:        "quiet-living-room",
		ARMFreq:     2500,
		GPUFreq:     920,
		OverVoltage: 1,
		Description: "Low-noise profile",
	}
	if err := s.Save(p); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := s.Load("quiet-living-room")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded != p {
		t.Errorf("Load() = %+v, want %+v", loaded, p)
	}
}

func TestStoreRejectsBadNames(t *testing.T) {
	s := NewStore(t.TempDir())
	base := Profile{ARMFreq: 2500, GPUFreq: 920}

	for _, name := range []string{"", "-leading-dash", "has space", "stock", "original", "waaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaytoolong"} {
		p := base
		p.Name = name
		if err := s.Save(p); err == nil {
			t.Errorf("Save() accepted invalid name %q", name)
		}
	}
}

func TestStoreRejectsInvalidProfile(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Save(Profile{Name: "toofast", ARMFreq: 9000, GPUFreq: 920}); err == nil {
		t.Error("Save() accepted out-of-range profile")
	}
}

func TestStoreList(t *testing.T) {
	s := NewStore(t.TempDir())

	if got := s.List(); len(got) != 0 {
		t.Fatalf("List() on empty store = %d entries", len(got))
	}

	for _, name := range []string{"alpha", "beta"} {
		if err := s.Save(Profile{Name: name, ARMFreq: 2500, GPUFreq: 920}); err != nil {
			t.Fatal(err)
		}
	}
	if got := s.List(); len(got) != 2 {
		t.Errorf("List() = %d entries, want 2", len(got))
	}
}

func TestStoreDelete(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Save(Profile{Name: "gone", ARMFreq: 2500, GPUFreq: 920}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := s.Load("gone"); err == nil {
		t.Error("Load() succeeded after delete")
	}
}
