package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"growthmap/server/internal/analytics"
	"growthmap/server/internal/models"
)

// Store implements the sale record store on PostgreSQL.
type Store struct {
	pool *Pool
}

// NewStore creates a new Store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Compile-time interface check.
var _ analytics.SaleReader = (*Store)(nil)

// Ping checks the connection to the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CountSales returns the number of stored sale events.
func (s *Store) CountSales(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sales").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sales: %w", err)
	}
	return count, nil
}

const selectSales = `
	SELECT id, property_id, dealing_number, contract_date, purchase_price,
		suburb, street_name, house_number, property_type, post_code,
		latitude, longitude, realestate_url, domain_url
	FROM sales
`

// ListSales returns the sales matching the filter, ordered by property and date.
func (s *Store) ListSales(ctx context.Context, filter models.SaleFilter) ([]models.SaleEvent, error) {
	query := selectSales + `
		WHERE ($1::date IS NULL OR contract_date >= $1)
		AND ($2::date IS NULL OR contract_date <= $2)
		AND ($3::text = '' OR suburb = $3)
		AND ($4::text = '' OR street_name = $4)
		ORDER BY property_id, contract_date, dealing_number, id
	`
	rows, err := s.pool.Query(ctx, query, optionalDate(filter.From), optionalDate(filter.To), filter.Suburb, filter.Street)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	return collectSales(rows)
}

// PropertySales returns every sale of one property.
func (s *Store) PropertySales(ctx context.Context, propertyID string) ([]models.SaleEvent, error) {
	query := selectSales + `
		WHERE property_id = $1
		ORDER BY contract_date, dealing_number, id
	`
	rows, err := s.pool.Query(ctx, query, propertyID)
	if err != nil {
		return nil, fmt.Errorf("query property sales: %w", err)
	}
	return collectSales(rows)
}

// UpsertSales stores a batch atomically. A repeated (property_id, dealing_number)
// pair replaces the stored row.
func (s *Store) UpsertSales(ctx context.Context, sales []models.SaleEvent) error {
	if len(sales) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO sales (
			property_id, dealing_number, contract_date, purchase_price, suburb, street_name,
			house_number, property_type, post_code, latitude, longitude, realestate_url, domain_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (property_id, dealing_number) DO UPDATE SET
			contract_date = EXCLUDED.contract_date,
			purchase_price = EXCLUDED.purchase_price,
			suburb = EXCLUDED.suburb,
			street_name = EXCLUDED.street_name,
			house_number = EXCLUDED.house_number,
			property_type = EXCLUDED.property_type,
			post_code = EXCLUDED.post_code,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			realestate_url = EXCLUDED.realestate_url,
			domain_url = EXCLUDED.domain_url
	`

	batch := &pgx.Batch{}
	for _, sale := range models.DedupeSales(sales) {
		batch.Queue(query,
			sale.PropertyID,
			sale.DealingNumber,
			sale.ContractDate,
			sale.PurchasePrice,
			sale.Suburb,
			sale.StreetName,
			sale.HouseNumber,
			sale.PropertyType,
			sale.PostCode,
			sale.Latitude,
			sale.Longitude,
			sale.RealestateURL,
			sale.DomainURL,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert sales: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func collectSales(rows pgx.Rows) ([]models.SaleEvent, error) {
	defer rows.Close()

	sales := make([]models.SaleEvent, 0)
	for rows.Next() {
		var sale models.SaleEvent
		err := rows.Scan(
			&sale.ID,
			&sale.PropertyID,
			&sale.DealingNumber,
			&sale.ContractDate,
			&sale.PurchasePrice,
			&sale.Suburb,
			&sale.StreetName,
			&sale.HouseNumber,
			&sale.PropertyType,
			&sale.PostCode,
			&sale.Latitude,
			&sale.Longitude,
			&sale.RealestateURL,
			&sale.DomainURL,
		)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sale.ContractDate = sale.ContractDate.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sales: %w", err)
	}
	return sales, nil
}

func optionalDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
