package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"growthmap/server/internal/analytics"
	"growthmap/server/internal/models"
)

// Database is the SQLite sale record store. Reads go through database/sql,
// batch writes through gorm on the same connection pool.
type Database struct {
	db     *sql.DB
	orm    *gorm.DB
	logger *logrus.Logger
}

var _ analytics.SaleReader = (*Database)(nil)

func NewDatabase(dbPath string, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer, and every :memory: connection is a separate database.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	orm, err := gorm.Open(sqlite.New(sqlite.Config{Conn: db}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open gorm session: %w", err)
	}

	return &Database{db: db, orm: orm, logger: logger}, nil
}

const saleColumns = `
	id,
	property_id,
	dealing_number,
	contract_date,
	purchase_price,
	COALESCE(suburb, ''),
	COALESCE(street_name, ''),
	COALESCE(house_number, ''),
	COALESCE(property_type, ''),
	COALESCE(post_code, ''),
	latitude,
	longitude,
	realestate_url,
	domain_url`

// ListSales returns the sales matching the filter, ordered by property and date.
func (d *Database) ListSales(ctx context.Context, filter models.SaleFilter) ([]models.SaleEvent, error) {
	from, to := formatDate(filter.From), formatDate(filter.To)
	query := `
		SELECT ` + saleColumns + `
		FROM sales
		WHERE (? = '' OR contract_date >= ?)
		AND (? = '' OR contract_date <= ?)
		AND (? = '' OR suburb = ?)
		AND (? = '' OR street_name = ?)
		ORDER BY property_id, contract_date, dealing_number, id
	`
	rows, err := d.db.QueryContext(ctx, query,
		from, from,
		to, to,
		filter.Suburb, filter.Suburb,
		filter.Street, filter.Street,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	return scanSales(rows)
}

// PropertySales returns every sale of one property.
func (d *Database) PropertySales(ctx context.Context, propertyID string) ([]models.SaleEvent, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE property_id = ?
		ORDER BY contract_date, dealing_number, id
	`, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query property sales: %w", err)
	}
	defer rows.Close()

	return scanSales(rows)
}

// CountSales returns the number of stored sale events.
func (d *Database) CountSales(ctx context.Context) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sales").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sales: %w", err)
	}
	return count, nil
}

func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *Database) Close() error {
	return d.db.Close()
}

func scanSales(rows *sql.Rows) ([]models.SaleEvent, error) {
	sales := make([]models.SaleEvent, 0)
	for rows.Next() {
		var s models.SaleEvent
		var contractDate string
		var latitude, longitude sql.NullFloat64
		var realestateURL, domainURL sql.NullString

		err := rows.Scan(
			&s.ID,
			&s.PropertyID,
			&s.DealingNumber,
			&contractDate,
			&s.PurchasePrice,
			&s.Suburb,
			&s.StreetName,
			&s.HouseNumber,
			&s.PropertyType,
			&s.PostCode,
			&latitude,
			&longitude,
			&realestateURL,
			&domainURL,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}

		s.ContractDate, err = time.Parse(models.DateLayout, contractDate)
		if err != nil {
			return nil, fmt.Errorf("invalid contract date %q for sale %d: %w", contractDate, s.ID, err)
		}

		// Handle nullable fields
		if latitude.Valid && longitude.Valid {
			lat, lon := latitude.Float64, longitude.Float64
			s.Latitude = &lat
			s.Longitude = &lon
		}
		if realestateURL.Valid {
			s.RealestateURL = &realestateURL.String
		}
		if domainURL.Valid {
			s.DomainURL = &domainURL.String
		}

		sales = append(sales, s)
	}
	return sales, rows.Err()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(models.DateLayout)
}
