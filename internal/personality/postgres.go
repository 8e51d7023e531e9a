package personality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/soven/internal/fault"
)

// Schema is the SQL DDL for the personalities table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
//
// trait_values holds the traits as written. The traits column repeats the
// numeric ones as a float32 pgvector in [TraitNames] order, only so that
// [PostgresStore.Similar] can use the HNSW cosine index.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS personalities (
    id                  TEXT PRIMARY KEY,
    name                TEXT NOT NULL,
    narrative           TEXT NOT NULL DEFAULT '',
    summary             TEXT NOT NULL DEFAULT '',
    themes              JSONB NOT NULL DEFAULT '[]',
    trait_values        JSONB NOT NULL,
    traits              vector(17) NOT NULL,
    temporal_resolution TEXT NOT NULL DEFAULT 'medium',
    pattern_window      TEXT NOT NULL DEFAULT 'medium',
    voice               JSONB NOT NULL DEFAULT '{}',
    preferences         JSONB NOT NULL DEFAULT '{}',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_personalities_name ON personalities(name);
CREATE INDEX IF NOT EXISTS idx_personalities_traits ON personalities
    USING hnsw (traits vector_cosine_ops);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL with the pgvector extension.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] on db. The caller is responsible
// for calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPool opens a connection pool to dsn with pgvector types registered on
// every connection, and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("personality: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("personality: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("personality: ping: %w", err)
	}
	return pool, nil
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("personality: migrate: %w", err)
	}
	return nil
}

// Create implements [Store.Create].
func (s *PostgresStore) Create(ctx context.Context, p *Personality) error {
	if err := p.Validate(); err != nil {
		return err
	}

	themesJSON, err := json.Marshal(emptySlice(p.Themes))
	if err != nil {
		return fmt.Errorf("personality: marshal themes: %w", err)
	}
	voiceJSON, err := json.Marshal(p.Voice)
	if err != nil {
		return fmt.Errorf("personality: marshal voice: %w", err)
	}
	prefsJSON, err := json.Marshal(p.Preferences)
	if err != nil {
		return fmt.Errorf("personality: marshal preferences: %w", err)
	}
	traitsJSON, err := json.Marshal(p.Traits)
	if err != nil {
		return fmt.Errorf("personality: marshal traits: %w", err)
	}

	const query = `
		INSERT INTO personalities (
			id, name, narrative, summary, themes, trait_values, traits,
			temporal_resolution, pattern_window, voice, preferences
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		p.ID, p.Name, p.Narrative, p.Summary, themesJSON,
		traitsJSON, pgvector.NewVector(p.Traits.Vector()),
		p.Traits.TemporalResolution, p.Traits.PatternWindow,
		voiceJSON, prefsJSON,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %q", ErrDuplicateID, p.ID)
		}
		return fmt.Errorf("personality: create: %w", err)
	}
	return nil
}

const selectColumns = `
	id, name, narrative, summary, themes, trait_values,
	temporal_resolution, pattern_window, voice, preferences,
	created_at, updated_at`

// Get implements [Store.Get]. It returns (nil, nil) if no row matches.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Personality, error) {
	p, err := scanPersonality(s.db.QueryRow(ctx,
		`SELECT`+selectColumns+` FROM personalities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("personality: get %q: %w", id, err)
	}
	return p, nil
}

// UpdateVoice implements [Store.UpdateVoice].
func (s *PostgresStore) UpdateVoice(ctx context.Context, id string, sel VoiceSelection, prefs Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}
	voiceJSON, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("personality: marshal voice: %w", err)
	}
	prefsJSON, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("personality: marshal preferences: %w", err)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE personalities
		SET voice = $2, preferences = $3, updated_at = now()
		WHERE id = $1`, id, voiceJSON, prefsJSON)
	if err != nil {
		return fmt.Errorf("personality: update voice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("personality: %w: %q", fault.ErrProfileNotFound, id)
	}
	return nil
}

// List implements [Store.List].
func (s *PostgresStore) List(ctx context.Context) ([]Personality, error) {
	rows, err := s.db.Query(ctx, `SELECT`+selectColumns+` FROM personalities ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("personality: list: %w", err)
	}
	defer rows.Close()

	var out []Personality
	for rows.Next() {
		p, err := scanPersonality(rows)
		if err != nil {
			return nil, fmt.Errorf("personality: list scan: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("personality: list: %w", err)
	}
	return out, nil
}

// Similar implements [Store.Similar] using the pgvector cosine distance operator.
func (s *PostgresStore) Similar(ctx context.Context, id string, limit int) ([]Neighbor, error) {
	if limit <= 0 {
		return nil, nil
	}

	const query = `
		SELECT p.id, p.name, p.traits <=> r.traits AS distance
		FROM personalities p, personalities r
		WHERE r.id = $1 AND p.id <> r.id
		ORDER BY distance, p.id
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("personality: similar: %w", err)
	}
	defer rows.Close()

	var out []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.ID, &n.Name, &n.Distance); err != nil {
			return nil, fmt.Errorf("personality: similar scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("personality: similar: %w", err)
	}
	return out, nil
}

func scanPersonality(row pgx.Row) (*Personality, error) {
	var (
		p                                           Personality
		temporal, window                            string
		themesJSON, traitsJSON, voiceJSON, prefJSON []byte
	)
	if err := row.Scan(
		&p.ID, &p.Name, &p.Narrative, &p.Summary, &themesJSON, &traitsJSON,
		&temporal, &window, &voiceJSON, &prefJSON,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(traitsJSON, &p.Traits); err != nil {
		return nil, fmt.Errorf("personality: unmarshal traits: %w", err)
	}
	p.Traits.TemporalResolution = temporal
	p.Traits.PatternWindow = window

	if err := json.Unmarshal(themesJSON, &p.Themes); err != nil {
		return nil, fmt.Errorf("personality: unmarshal themes: %w", err)
	}
	if err := json.Unmarshal(voiceJSON, &p.Voice); err != nil {
		return nil, fmt.Errorf("personality: unmarshal voice: %w", err)
	}
	if err := json.Unmarshal(prefJSON, &p.Preferences); err != nil {
		return nil, fmt.Errorf("personality: unmarshal preferences: %w", err)
	}
	return &p, nil
}

// emptySlice makes JSON marshalling produce "[]" instead of "null".
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
