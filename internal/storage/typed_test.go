package storage

import (
	"path/filepath"
	"testing"

	"github.com/dokzlo13/lighttools/internal/db"
)

type lampState struct {
	On    bool `json:"on"`
	Level int  `json:"level"`
}

func openStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database.DB)
}

func TestTypedStoreRoundTrip(t *testing.T) {
	s := NewTypedStore[lampState](openStore(t), "lamp")

	if _, found, err := s.Get("kitchen"); err != nil || found {
		t.Fatalf("Get() on empty store = found %v, err %v", found, err)
	}

	if err := s.Set("kitchen", lampState{On: true, Level: 40}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set("kitchen", lampState{On: true, Level: 60}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, found, err := s.Get("kitchen")
	if err != nil || !found {
		t.Fatalf("Get() = found %v, err %v", found, err)
	}
	if got != (lampState{On: true, Level: 60}) {
		t.Errorf("Get() = %+v, want level 60 on", got)
	}
}

func TestKindsAreIsolated(t *testing.T) {
	store := openStore(t)
	lamps := NewTypedStore[lampState](store, "lamp")
	other := NewTypedStore[lampState](store, "other")

	lamps.Set("a", lampState{Level: 1})
	lamps.Set("b", lampState{Level: 2})
	other.Set("a", lampState{Level: 9})

	all, err := lamps.GetAll()
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(all) != 2 || all["a"].Level != 1 || all["b"].Level != 2 {
		t.Errorf("GetAll() = %+v", all)
	}

	if err := lamps.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if all, _ := lamps.GetAll(); len(all) != 0 {
		t.Errorf("GetAll() after Clear() = %+v, want empty", all)
	}
	if v, found, _ := other.Get("a"); !found || v.Level != 9 {
		t.Errorf("Clear() touched another kind: %+v found=%v", v, found)
	}

	if err := other.Delete("a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, found, _ := other.Get("a"); found {
		t.Error("Get() found deleted entry")
	}
}
