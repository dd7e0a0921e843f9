package repository

import "github.com/jackc/pgx/v5/pgxpool"

// PostgresStore is the Store backed by the access schema in PostgreSQL.
// Every call acquires its own pooled connection and releases it before returning.
type PostgresStore struct {
	*CatalogRepository
	*RequestRepository
	*GrantRepository
	*LogRepository

	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		CatalogRepository: NewCatalogRepository(pool),
		RequestRepository: NewRequestRepository(pool),
		GrantRepository:   NewGrantRepository(pool),
		LogRepository:     NewLogRepository(pool),
		pool:              pool,
	}
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

var _ Store = (*PostgresStore)(nil)
