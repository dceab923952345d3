package consultation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestFileRepository_AppendAndList(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRepository(dir)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	ctx := context.Background()

	if err := repo.SavePatient(ctx, Patient{Name: "Ann", Age: 30}); err != nil {
		t.Fatalf("save patient: %v", err)
	}
	for _, d := range []string{"Dengue", "Malaria"} {
		if err := repo.SaveConsultation(ctx, Record{PatientName: "Ann", Disease: d, Source: SourceCatalog}); err != nil {
			t.Fatalf("save consultation: %v", err)
		}
	}

	recs, err := repo.ListConsultations(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 || recs[0].Disease != "Dengue" || recs[1].Disease != "Malaria" {
		t.Errorf("unexpected records %+v", recs)
	}

	data, err := os.ReadFile(filepath.Join(dir, "patients.json"))
	if err != nil {
		t.Fatalf("read patients log: %v", err)
	}
	var patients []Patient
	if err := json.Unmarshal(data, &patients); err != nil || len(patients) != 1 {
		t.Errorf("patients log not a JSON array of one entry: %s", data)
	}
}

func TestFileRepository_ConcurrentAppends(t *testing.T) {
	repo, err := NewFileRepository(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- repo.SaveConsultation(ctx, Record{PatientName: fmt.Sprintf("p%d", i)})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	recs, err := repo.ListConsultations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != n {
		t.Errorf("lost updates: expected %d records, got %d", n, len(recs))
	}
}

func TestFileRepository_CorruptLogIsAnError(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "consultations.json"), []byte("{not json"), 0o644)
	repo, _ := NewFileRepository(dir)

	if err := repo.SaveConsultation(context.Background(), Record{}); err == nil {
		t.Fatal("expected error when the existing log cannot be decoded")
	}
	data, _ := os.ReadFile(filepath.Join(dir, "consultations.json"))
	if string(data) != "{not json" {
		t.Error("corrupt log must be left untouched")
	}
}
