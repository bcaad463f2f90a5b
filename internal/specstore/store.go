package specstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	cdispec "tags.cncf.io/container-device-interface/specs-go"

	"github.com/nerrad567/cdicache/internal/cdi"
)

// DefaultSourceID identifies the store among the cache's sources.
const DefaultSourceID = "sqlite"

// Stored formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

const maxNameLength = 128

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// SpecInfo describes a stored spec document without its content.
type SpecInfo struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Format    string    `json:"format"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps CDI spec documents in SQLite and serves them to the cache as
// a cdi.Source. Documents written here are the equivalent of transient
// specs dropped into the dynamic spec directory: they only become visible
// to injection after the next cache refresh.
type Store struct {
	db  *sql.DB
	id  string
	now func() time.Time
}

// New returns a store over db, which must already carry the cdi_specs
// migration. An empty id selects DefaultSourceID.
func New(db *sql.DB, id string) *Store {
	if id == "" {
		id = DefaultSourceID
	}
	return &Store{db: db, id: id, now: time.Now}
}

// ID implements cdi.Source.
func (s *Store) ID() string {
	return s.id
}

// Load implements cdi.Source. Rows are returned in name order. A row that
// no longer parses is reported in Scan.Errors under "<id>:<name>" rather
// than failing the whole source.
func (s *Store) Load(ctx context.Context) (*cdi.Scan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, content FROM cdi_specs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying specs: %w", cdi.ErrSourceUnreadable, err)
	}
	defer rows.Close()

	scan := &cdi.Scan{}
	for rows.Next() {
		var (
			name    string
			content []byte
		)
		if err := rows.Scan(&name, &content); err != nil {
			return nil, fmt.Errorf("%w: scanning spec row: %w", cdi.ErrSourceUnreadable, err)
		}

		path := s.path(name)
		spec, err := cdi.ParseSpec(content)
		if err != nil {
			scan.Errors = append(scan.Errors, &cdi.SpecFileError{Path: path, Err: err})
			continue
		}
		scan.Specs = append(scan.Specs, &cdi.SpecFile{Path: path, Spec: spec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating specs: %w", cdi.ErrSourceUnreadable, err)
	}

	return scan, nil
}

// WriteSpec validates data as a CDI spec document and stores it under name,
// replacing any previous document with that name.
//
// Parameters:
//   - ctx: context for the database write
//   - name: document name, letters, digits, '.', '_' and '-' only
//   - data: YAML or JSON spec document
//
// Returns:
//   - *cdispec.Spec: the parsed document
//   - error: ErrInvalidName, an error wrapping cdi.ErrInvalidSpec or
//     cdi.ErrInvalidDevice, or a database error
func (s *Store) WriteSpec(ctx context.Context, name string, data []byte) (*cdispec.Spec, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	spec, err := cdi.ParseSpec(data)
	if err != nil {
		return nil, err
	}
	if err := cdi.ValidateSpec(spec); err != nil {
		return nil, err
	}

	now := s.now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cdi_specs (name, kind, format, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind,
			format = excluded.format,
			content = excluded.content,
			updated_at = excluded.updated_at`,
		name, spec.Kind, detectFormat(data), data, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("storing spec %q: %w", name, err)
	}

	return spec, nil
}

// RemoveSpec deletes the document stored under name.
func (s *Store) RemoveSpec(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM cdi_specs WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("removing spec %q: %w", name, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("removing spec %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrSpecNotFound, name)
	}
	return nil
}

// List returns metadata for every stored document, ordered by name.
func (s *Store) List(ctx context.Context) ([]SpecInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, kind, format, created_at, updated_at FROM cdi_specs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing specs: %w", err)
	}
	defer rows.Close()

	var infos []SpecInfo
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing specs: %w", err)
	}
	return infos, nil
}

// Get returns the raw document stored under name and its metadata.
func (s *Store) Get(ctx context.Context, name string) (SpecInfo, []byte, error) {
	var (
		info    SpecInfo
		created string
		updated string
		content []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, kind, format, created_at, updated_at, content FROM cdi_specs WHERE name = ?`, name,
	).Scan(&info.Name, &info.Kind, &info.Format, &created, &updated, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return SpecInfo{}, nil, fmt.Errorf("%w: %q", ErrSpecNotFound, name)
	}
	if err != nil {
		return SpecInfo{}, nil, fmt.Errorf("getting spec %q: %w", name, err)
	}

	info.CreatedAt, _ = time.Parse(time.RFC3339, created) //nolint:errcheck // written by this package in RFC3339
	info.UpdatedAt, _ = time.Parse(time.RFC3339, updated) //nolint:errcheck // written by this package in RFC3339
	return info, content, nil
}

func (s *Store) path(name string) string {
	return s.id + ":" + name
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInfo(row rowScanner) (SpecInfo, error) {
	var (
		info    SpecInfo
		created string
		updated string
	)
	if err := row.Scan(&info.Name, &info.Kind, &info.Format, &created, &updated); err != nil {
		return SpecInfo{}, fmt.Errorf("scanning spec row: %w", err)
	}
	info.CreatedAt, _ = time.Parse(time.RFC3339, created) //nolint:errcheck // written by this package in RFC3339
	info.UpdatedAt, _ = time.Parse(time.RFC3339, updated) //nolint:errcheck // written by this package in RFC3339
	return info, nil
}

func validateName(name string) error {
	if len(name) > maxNameLength || !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// detectFormat reports json for documents whose first non-space byte opens
// an object, yaml otherwise.
func detectFormat(data []byte) string {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}
