// Package catalog provides read-only access to vendor offer records.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"quote-agent/internal/domain"
)

// tagSeparator joins specification tags in the spec_tags column.
const tagSeparator = ","

// SQLiteGateway queries vendor offers from a sqlite database. The schema is
// owned by the ingestion side; this service only reads it.
type SQLiteGateway struct {
	db *sql.DB
}

// Open opens the catalog database at the given DSN.
func Open(dsn string) (*SQLiteGateway, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("catalog: dsn must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open database: %w", err)
	}
	return &SQLiteGateway{db: db}, nil
}

// NewWithDB wraps an existing database handle. Used by tests seeding their
// own schema.
func NewWithDB(db *sql.DB) (*SQLiteGateway, error) {
	if db == nil {
		return nil, errors.New("catalog: db must not be nil")
	}
	return &SQLiteGateway{db: db}, nil
}

// Close releases the underlying database handle.
func (g *SQLiteGateway) Close() error {
	return g.db.Close()
}

// Query returns every offer whose category matches the hint
// (case-insensitive substring), further restricted to offers matching the
// specification when one is given. Offers are returned cheapest first with
// deterministic vendor tie-breaks so callers can rely on the order.
func (g *SQLiteGateway) Query(ctx context.Context, category, specification string) ([]domain.CatalogOffer, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, errors.New("catalog: category hint is required")
	}

	rows, err := g.db.QueryContext(ctx, `
		SELECT vendor_id, vendor_name, item_name, category, spec_tags, unit_price, currency
		FROM offers
		WHERE instr(lower(category), lower(?)) > 0
		ORDER BY unit_price ASC, vendor_name ASC, vendor_id ASC`,
		category,
	)
	if err != nil {
		return nil, fmt.Errorf("catalog: query offers: %w", err)
	}
	defer rows.Close()

	var offers []domain.CatalogOffer
	for rows.Next() {
		var o domain.CatalogOffer
		var tags string
		if err := rows.Scan(&o.VendorID, &o.VendorName, &o.ItemName, &o.Category, &tags, &o.UnitPrice, &o.Currency); err != nil {
			return nil, fmt.Errorf("catalog: scan offer: %w", err)
		}
		o.SpecTags = splitTags(tags)
		if specification == "" || o.MatchesSpec(specification) {
			offers = append(offers, o)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate offers: %w", err)
	}
	return offers, nil
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, tagSeparator)
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}
