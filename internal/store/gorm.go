package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/emrgen/cdr/internal/model"
	"gorm.io/gorm"
)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:   db,
		root: db,
	}
}

var _ Store = (*GormStore)(nil)

type GormStore struct {
	db *gorm.DB
	// root is the pool the store was opened on; it differs from db inside
	// a transaction.
	root *gorm.DB
	inTx bool
}

// DB exposes the underlying connection for callers that compose their own
// queries.
func (g *GormStore) DB() *gorm.DB {
	return g.db
}

func (g *GormStore) Migrate() error {
	return model.Migrate(g.db)
}

func (g *GormStore) Transaction(ctx context.Context, f func(tx Store) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return f(&GormStore{db: tx, root: g.root, inTx: true})
	})
}

// RawQuery runs the statement where it cannot write. On sqlite the
// connection is switched to query_only for the duration of the call; other
// dialects get a separate read-only transaction on the root pool, which
// does not see uncommitted changes of an enclosing transaction.
func (g *GormStore) RawQuery(ctx context.Context, query string, args ...any) ([]string, [][]string, error) {
	var cols []string
	var out [][]string
	read := func(db *gorm.DB) error {
		var err error
		cols, out, err = scanRows(db.Raw(query, args...))
		return err
	}

	if g.db.Dialector.Name() != "sqlite" {
		err := g.root.WithContext(ctx).Transaction(read, &sql.TxOptions{ReadOnly: true})
		return cols, out, err
	}

	queryOnly := func(db *gorm.DB) (err error) {
		if err := db.Exec("PRAGMA query_only = ON").Error; err != nil {
			return err
		}
		defer func() {
			if rerr := db.Exec("PRAGMA query_only = OFF").Error; rerr != nil && err == nil {
				err = rerr
			}
		}()
		return read(db)
	}
	if g.inTx {
		// a transaction already pins one connection
		return cols, out, queryOnly(g.db.WithContext(ctx))
	}
	err := g.db.WithContext(ctx).Connection(queryOnly)
	return cols, out, err
}

func scanRows(db *gorm.DB) ([]string, [][]string, error) {
	rows, err := db.Rows()
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]string
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}

		row := make([]string, len(cols))
		for i, v := range values {
			if v.Valid {
				row[i] = v.String
			}
		}
		out = append(out, row)
	}

	return cols, out, rows.Err()
}

func (g *GormStore) LastAuditTime(ctx context.Context, docID uint) (*time.Time, error) {
	var audit model.AuditTrail
	err := g.db.WithContext(ctx).Where("document = ?", docID).Order("dt desc").Limit(1).Find(&audit).Error
	if err != nil {
		return nil, err
	}
	if audit.Document == 0 {
		return nil, nil
	}

	return &audit.DT, nil
}

func (g *GormStore) CreateAuditTrail(ctx context.Context, a *model.AuditTrail) error {
	return g.db.WithContext(ctx).Create(a).Error
}

func (g *GormStore) CreateAddedAction(ctx context.Context, a *model.AuditTrailAddedAction) error {
	return g.db.WithContext(ctx).Create(a).Error
}

func queryTermTable(table string) (string, error) {
	switch table {
	case model.QueryTermTable, model.QueryTermPubTable:
		return table, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownTable, table)
}
