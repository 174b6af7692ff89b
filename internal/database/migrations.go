package database

import "fmt"

func (d *Database) RunMigrations() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS sales (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			property_id TEXT NOT NULL,
			dealing_number TEXT NOT NULL,
			contract_date TEXT NOT NULL,
			purchase_price REAL NOT NULL,
			suburb TEXT,
			street_name TEXT,
			house_number TEXT,
			property_type TEXT,
			post_code TEXT,
			latitude REAL,
			longitude REAL,
			realestate_url TEXT,
			domain_url TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create sales table: %w", err)
	}

	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sales_dealing ON sales(property_id, dealing_number);`,
		`CREATE INDEX IF NOT EXISTS idx_sales_location ON sales(suburb, street_name, contract_date);`,
		`CREATE INDEX IF NOT EXISTS idx_sales_contract_date ON sales(contract_date);`,
		`CREATE INDEX IF NOT EXISTS idx_sales_coordinates ON sales(latitude, longitude);`,
	}
	for _, stmt := range indexes {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
