package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pingTimeout  = 1 * time.Second
	queryTimeout = 3 * time.Second
	pgUniqueCode = "23505"
)

// PostgresStore persists products in a single table, with images stored as
// a jsonb array. The seq column preserves insertion order for List.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS products (
				id          TEXT PRIMARY KEY,
				sku         TEXT NOT NULL UNIQUE,
				name        TEXT NOT NULL,
				description TEXT NOT NULL,
				quantity    INTEGER NOT NULL,
				images      JSONB NOT NULL DEFAULT '[]',
				seq         BIGSERIAL
			)
		`)
		return err
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return withTimeout(ctx, pingTimeout, func(ctx context.Context) error {
		return s.db.PingContext(ctx)
	})
}

func (s *PostgresStore) Create(ctx context.Context, draft Product) (Product, error) {
	if err := validateDraft(draft); err != nil {
		return Product{}, err
	}

	draft.ID = "p_" + uuid.NewString()
	if draft.Images == nil {
		draft.Images = []string{}
	}

	images, err := json.Marshal(draft.Images)
	if err != nil {
		return Product{}, err
	}

	err = withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO products (id, sku, name, description, quantity, images)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, draft.ID, draft.SKU, draft.Name, draft.Description, draft.Quantity, images)

		if isUniqueViolation(err) {
			return ErrDuplicateSKU
		}
		return err
	})
	if err != nil {
		return Product{}, err
	}
	return draft, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Product, bool, error) {
	var (
		p      Product
		images []byte
	)

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT id, sku, name, description, quantity, images
			FROM products
			WHERE id = $1
		`, id).Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Quantity, &images)
	})

	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, false, nil
	}
	if err != nil {
		return Product{}, false, err
	}
	if err := json.Unmarshal(images, &p.Images); err != nil {
		return Product{}, false, err
	}
	return p, true, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Product, error) {
	return s.query(ctx, `
		SELECT id, sku, name, description, quantity, images
		FROM products
		ORDER BY seq ASC
	`)
}

func (s *PostgresStore) Search(ctx context.Context, term string) ([]Product, error) {
	return s.query(ctx, `
		SELECT id, sku, name, description, quantity, images
		FROM products
		WHERE position(lower($1) IN lower(name)) > 0
		   OR position(lower($1) IN lower(description)) > 0
		ORDER BY seq ASC
	`, term)
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]Product, error) {
	var out []Product

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]Product, 0, 16)
		for rows.Next() {
			var (
				p      Product
				images []byte
			)
			if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Quantity, &images); err != nil {
				return err
			}
			if err := json.Unmarshal(images, &p.Images); err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})

	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, u ProductUpdate) (Product, bool, error) {
	if err := validateUpdate(u); err != nil {
		return Product{}, false, err
	}

	var imagesArg any
	if u.ImagePolicy == ReplaceAllImages {
		images := u.Images
		if images == nil {
			images = []string{}
		}
		b, err := json.Marshal(images)
		if err != nil {
			return Product{}, false, err
		}
		imagesArg = b
	}

	var (
		p      Product
		images []byte
	)

	// COALESCE keeps the merge a single atomic statement: absent fields
	// arrive as NULL and retain the stored value.
	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			UPDATE products SET
				sku         = COALESCE($2, sku),
				name        = COALESCE($3, name),
				description = COALESCE($4, description),
				quantity    = COALESCE($5, quantity),
				images      = COALESCE($6, images)
			WHERE id = $1
			RETURNING id, sku, name, description, quantity, images
		`, id, u.SKU, u.Name, u.Description, u.Quantity, imagesArg).
			Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Quantity, &images)
	})

	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, false, nil
	}
	if isUniqueViolation(err) {
		return Product{}, false, ErrDuplicateSKU
	}
	if err != nil {
		return Product{}, false, err
	}
	if err := json.Unmarshal(images, &p.Images); err != nil {
		return Product{}, false, err
	}
	return p, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	var affected int64

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueCode
}

func withTimeout(parent context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()
	return fn(ctx)
}
