package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Repository is the append-only log of patients and consultations.
type Repository interface {
	SavePatient(ctx context.Context, p Patient) error
	SaveConsultation(ctx context.Context, r Record) error
	ListConsultations(ctx context.Context) ([]Record, error)
}

const (
	patientsFile      = "patients.json"
	consultationsFile = "consultations.json"
)

// fileRepo keeps each log as a JSON array. Appends rewrite the whole file
// through a temp file and rename, one writer per file at a time.
type fileRepo struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFileRepository(dir string) (Repository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &fileRepo{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (r *fileRepo) lock(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}

func (r *fileRepo) SavePatient(ctx context.Context, p Patient) error {
	return r.appendEntry(ctx, patientsFile, p)
}

func (r *fileRepo) SaveConsultation(ctx context.Context, rec Record) error {
	return r.appendEntry(ctx, consultationsFile, rec)
}

func (r *fileRepo) ListConsultations(ctx context.Context) ([]Record, error) {
	l := r.lock(consultationsFile)
	l.Lock()
	defer l.Unlock()

	entries, err := r.read(consultationsFile)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(entries))
	for i, raw := range entries {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode consultation %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *fileRepo) appendEntry(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s entry: %w", name, err)
	}

	l := r.lock(name)
	l.Lock()
	defer l.Unlock()

	entries, err := r.read(name)
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return writeAtomic(filepath.Join(r.dir, name), data)
}

func (r *fileRepo) read(name string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return entries, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
