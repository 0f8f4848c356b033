package settings_test

import (
	"testing"

	_ "modernc.org/sqlite"

	"github.com/jmtrans/freightboard/dbopen"
	"github.com/jmtrans/freightboard/settings"
)

func TestSaveLoadAll(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(settings.Schema))
	s := settings.NewStore(db)

	if v, err := s.Load("lang"); err != nil || v != "" {
		t.Fatalf("Load missing = %q, %v; want empty, nil", v, err)
	}

	if err := s.Save("lang", "ka"); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("lang", "ru"); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("theme", "dark"); err != nil {
		t.Fatal(err)
	}

	if v, _ := s.Load("lang"); v != "ru" {
		t.Fatalf("lang = %q, want ru (upsert)", v)
	}

	all, err := s.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all["lang"] != "ru" || all["theme"] != "dark" {
		t.Fatalf("All = %v", all)
	}
}
