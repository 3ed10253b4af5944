// Package repository implements persistence for posts, claims, dashboard
// counters and contact profiles on top of GORM.
package repository

import (
	"context"

	"waster/internal/database"

	"gorm.io/gorm"
)

// Page is a limit/offset window over a list query.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) apply(q *gorm.DB) *gorm.DB {
	if p.Limit > 0 {
		q = q.Limit(p.Limit)
	}
	if p.Offset > 0 {
		q = q.Offset(p.Offset)
	}
	return q
}

// Repos groups the repositories bound to one connection or transaction.
type Repos interface {
	Posts() PostRepository
	Claims() ClaimRepository
	Stats() StatsRepository
	Users() UserRepository
}

// Store is the entity store: repositories plus transactions.
type Store interface {
	Repos
	// WithTx runs fn in one database transaction. Any error rolls back.
	WithTx(ctx context.Context, fn func(tx Repos) error) error
}

type store struct {
	db   *gorm.DB
	inTx bool
}

// NewStore creates a Store over db.
func NewStore(db *gorm.DB) Store {
	return &store{db: db}
}

func (s *store) reader() *gorm.DB {
	if s.inTx {
		return s.db
	}
	return readDB(s.db)
}

func (s *store) Posts() PostRepository   { return &postRepository{db: s.db, read: s.reader()} }
func (s *store) Claims() ClaimRepository { return &claimRepository{db: s.db, read: s.reader()} }
func (s *store) Stats() StatsRepository  { return &statsRepository{db: s.db} }
func (s *store) Users() UserRepository   { return &userRepository{db: s.db, read: s.reader()} }

func (s *store) WithTx(ctx context.Context, fn func(tx Repos) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&store{db: tx, inTx: true})
	})
	return classify(err)
}

// readDB prefers the replica for reads outside transactions.
func readDB(primary *gorm.DB) *gorm.DB {
	if db := database.GetReadDB(); db != nil {
		return db
	}
	return primary
}
