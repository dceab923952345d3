package consultation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type postgresRepo struct {
	db *sql.DB
}

// NewPostgresRepository stores each entry as a JSONB payload in the
// patients and consultations tables created by the migrations.
func NewPostgresRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

func (r *postgresRepo) SavePatient(ctx context.Context, p Patient) error {
	return r.insert(ctx, `INSERT INTO patients (payload) VALUES ($1)`, p)
}

func (r *postgresRepo) SaveConsultation(ctx context.Context, rec Record) error {
	return r.insert(ctx, `INSERT INTO consultations (payload, created_at) VALUES ($1, $2)`, rec, rec.Date)
}

func (r *postgresRepo) insert(ctx context.Context, query string, v any, extra ...any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	args := append([]any{payload}, extra...)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func (r *postgresRepo) ListConsultations(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM consultations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query consultations: %w", err)
	}
	defer rows.Close()
	return scanConsultations(rows)
}

// payloadRows is the part of *sql.Rows the decoder reads.
type payloadRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanConsultations(rows payloadRows) ([]Record, error) {
	var out []Record
	for i := 0; rows.Next(); i++ {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan consultation %d: %w", i, err)
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode consultation %d: %w", i, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read consultations: %w", err)
	}
	return out, nil
}
