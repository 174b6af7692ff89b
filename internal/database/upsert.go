package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"growthmap/server/internal/models"
)

const upsertBatchSize = 200

// saleRecord is the gorm mapping of the sales table.
type saleRecord struct {
	ID            int64    `gorm:"primaryKey;autoIncrement"`
	PropertyID    string   `gorm:"column:property_id"`
	DealingNumber string   `gorm:"column:dealing_number"`
	ContractDate  string   `gorm:"column:contract_date"`
	PurchasePrice float64  `gorm:"column:purchase_price"`
	Suburb        string   `gorm:"column:suburb"`
	StreetName    string   `gorm:"column:street_name"`
	HouseNumber   string   `gorm:"column:house_number"`
	PropertyType  string   `gorm:"column:property_type"`
	PostCode      string   `gorm:"column:post_code"`
	Latitude      *float64 `gorm:"column:latitude"`
	Longitude     *float64 `gorm:"column:longitude"`
	RealestateURL *string  `gorm:"column:realestate_url"`
	DomainURL     *string  `gorm:"column:domain_url"`
}

func (saleRecord) TableName() string {
	return "sales"
}

func toRecord(s models.SaleEvent) saleRecord {
	return saleRecord{
		PropertyID:    s.PropertyID,
		DealingNumber: s.DealingNumber,
		ContractDate:  s.ContractDate.Format(models.DateLayout),
		PurchasePrice: s.PurchasePrice,
		Suburb:        s.Suburb,
		StreetName:    s.StreetName,
		HouseNumber:   s.HouseNumber,
		PropertyType:  s.PropertyType,
		PostCode:      s.PostCode,
		Latitude:      s.Latitude,
		Longitude:     s.Longitude,
		RealestateURL: s.RealestateURL,
		DomainURL:     s.DomainURL,
	}
}

// UpsertSales writes sales inside tx. A sale that repeats an existing
// (property_id, dealing_number) pair replaces the stored row.
func UpsertSales(tx *gorm.DB, sales []models.SaleEvent) error {
	if len(sales) == 0 {
		return nil
	}

	records := make([]saleRecord, 0, len(sales))
	for _, s := range models.DedupeSales(sales) {
		records = append(records, toRecord(s))
	}

	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "property_id"}, {Name: "dealing_number"}},
		UpdateAll: true,
	}).CreateInBatches(records, upsertBatchSize)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert sales: %w", result.Error)
	}
	return nil
}

// UpsertSales stores a batch of sales atomically.
func (d *Database) UpsertSales(ctx context.Context, sales []models.SaleEvent) error {
	return d.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return UpsertSales(tx, sales)
	})
}
