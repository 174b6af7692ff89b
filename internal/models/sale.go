package models

import (
	"errors"
	"time"
)

// DateLayout is the storage and wire format of contract dates.
const DateLayout = "2006-01-02"

// SaleEvent is one recorded transaction of a parcel.
type SaleEvent struct {
	ID            int64     `json:"id"`
	PropertyID    string    `json:"property_id"`
	DealingNumber string    `json:"dealing_number"`
	ContractDate  time.Time `json:"contract_date"`
	PurchasePrice float64   `json:"purchase_price"`
	Suburb        string    `json:"suburb"`
	StreetName    string    `json:"street_name"`
	HouseNumber   string    `json:"house_number"`
	PropertyType  string    `json:"property_type"`
	PostCode      string    `json:"post_code"`
	Latitude      *float64  `json:"latitude"`
	Longitude     *float64  `json:"longitude"`
	RealestateURL *string   `json:"realestate_url,omitempty"`
	DomainURL     *string   `json:"domain_url,omitempty"`
}

// HasCoordinates reports whether the sale has been geocoded.
func (s *SaleEvent) HasCoordinates() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// Validate checks the fields a stored sale needs.
func (s *SaleEvent) Validate() error {
	switch {
	case s.PropertyID == "":
		return errors.New("property_id is required")
	case s.DealingNumber == "":
		return errors.New("dealing_number is required")
	case s.ContractDate.IsZero():
		return errors.New("contract_date is required")
	case s.Suburb == "":
		return errors.New("suburb is required")
	case (s.Latitude == nil) != (s.Longitude == nil):
		return errors.New("latitude and longitude must be set together")
	}
	return nil
}

// Year returns the calendar year of the contract date.
func (s *SaleEvent) Year() int {
	return s.ContractDate.Year()
}

// GrowthFigure describes the transition between two consecutive sales of one property.
type GrowthFigure struct {
	PropertyID  string    `json:"property_id"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	StartPrice  float64   `json:"start_price"`
	EndPrice    float64   `json:"end_price"`
	YearsHeld   float64   `json:"years_held"`
	CAGR        float64   `json:"cagr"`
	TotalGrowth float64   `json:"total_growth"`
}

// PropertySale is a sale event with the growth figure of the transition that ended in it.
// Growth is nil for the first sale of a property and for excluded transitions.
type PropertySale struct {
	SaleEvent
	Growth *GrowthFigure `json:"growth"`
}

// SaleFilter narrows a store read. Zero values leave a bound open.
type SaleFilter struct {
	From   time.Time
	To     time.Time
	Suburb string
	Street string
}

// DedupeSales keeps the last occurrence of every (property_id, dealing_number)
// pair, in order of first appearance.
func DedupeSales(sales []SaleEvent) []SaleEvent {
	type dealingKey struct{ property, dealing string }
	index := make(map[dealingKey]int, len(sales))
	out := make([]SaleEvent, 0, len(sales))
	for _, s := range sales {
		k := dealingKey{s.PropertyID, s.DealingNumber}
		if i, ok := index[k]; ok {
			out[i] = s
			continue
		}
		index[k] = len(out)
		out = append(out, s)
	}
	return out
}
