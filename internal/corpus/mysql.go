package corpus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"golang.org/x/text/unicode/norm"
)

// Pool reads the host application's MySQL database directly. Only registered
// users with a profile photo are part of the corpus.
type Pool struct {
	db *sql.DB
}

// NewPool opens a read-only connection pool against the host database.
func NewPool(dsn string) (*Pool, error) {
	if dsn == "" {
		return nil, errors.New("corpus database DSN is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping corpus database: %w", err)
	}

	return &Pool{db: db}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing corpus database connection: %w", err)
		}
	}
	return nil
}

// ListRegistered returns every registered partner with a photo, ordered by
// id so batch runs walk the corpus in a stable order.
func (p *Pool) ListRegistered(ctx context.Context) ([]Entity, error) {
	query := `
		SELECT p.id, p.name, p.phone, p.status, p.photo_url
		FROM partners p
		JOIN relationships r ON r.partner_id = p.id
		WHERE p.status = 'registered'
		  AND p.photo_url IS NOT NULL AND p.photo_url <> ''
		GROUP BY p.id, p.name, p.phone, p.status, p.photo_url
		ORDER BY p.id
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query registered partners: %w", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		var phone sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &phone, &e.Status, &e.PhotoURL); err != nil {
			return nil, fmt.Errorf("scan partner row: %w", err)
		}
		e.Phone = phone.String
		e.Name = normalizeName(e.Name)
		entities = append(entities, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partner rows: %w", err)
	}

	return entities, nil
}

// Get returns one partner by id, or (nil, nil) when it does not exist or has
// no photo.
func (p *Pool) Get(ctx context.Context, id string) (*Entity, error) {
	query := `
		SELECT id, name, phone, status, photo_url
		FROM partners
		WHERE id = ?
		  AND photo_url IS NOT NULL AND photo_url <> ''
	`

	var e Entity
	var phone sql.NullString
	err := p.db.QueryRowContext(ctx, query, id).Scan(&e.ID, &e.Name, &phone, &e.Status, &e.PhotoURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query partner %s: %w", id, err)
	}
	e.Phone = phone.String
	e.Name = normalizeName(e.Name)
	return &e, nil
}

// normalizeName folds the display name to NFC and trims whitespace. Host app
// data mixes composed and decomposed accents depending on the client that
// wrote it.
func normalizeName(name string) string {
	return strings.TrimSpace(norm.NFC.String(name))
}
