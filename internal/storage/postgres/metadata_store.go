package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/storage"
)

// MetadataStore implements storage.MetadataStore using PostgreSQL.
type MetadataStore struct {
	pool *Pool
}

// NewMetadataStore creates a new MetadataStore.
func NewMetadataStore(pool *Pool) *MetadataStore {
	return &MetadataStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MetadataStore = (*MetadataStore)(nil)

// Upsert inserts or replaces the document for m.URI.
func (s *MetadataStore) Upsert(ctx context.Context, m *domain.Metadata) (err error) {
	if m == nil || m.URI == "" {
		return storage.ErrInvalidInput
	}
	q := track("metadata_upsert")
	defer func() { q.done(err) }()

	query := `
		INSERT INTO token_metadata (
			uri, name, symbol, description, image, twitter, telegram, website, fetched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (uri) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			description = EXCLUDED.description,
			image = EXCLUDED.image,
			twitter = EXCLUDED.twitter,
			telegram = EXCLUDED.telegram,
			website = EXCLUDED.website,
			fetched_at = EXCLUDED.fetched_at
	`

	_, err = s.pool.Exec(ctx, query,
		m.URI,
		m.Name,
		m.Symbol,
		m.Description,
		m.Image,
		m.Twitter,
		m.Telegram,
		m.Website,
		m.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert token metadata: %w", err)
	}
	return nil
}

// GetByURI retrieves metadata by URI. Returns ErrNotFound if not exists.
func (s *MetadataStore) GetByURI(ctx context.Context, uri string) (m *domain.Metadata, err error) {
	q := track("metadata_get")
	defer func() { q.done(err) }()

	query := `
		SELECT uri, name, symbol, description, image, twitter, telegram, website, fetched_at
		FROM token_metadata
		WHERE uri = $1
	`

	m, err = scanMetadata(s.pool.QueryRow(ctx, query, uri))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token metadata by uri: %w", err)
	}
	return m, nil
}

func scanMetadata(row pgx.Row) (*domain.Metadata, error) {
	var m domain.Metadata
	err := row.Scan(
		&m.URI,
		&m.Name,
		&m.Symbol,
		&m.Description,
		&m.Image,
		&m.Twitter,
		&m.Telegram,
		&m.Website,
		&m.FetchedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
