package domain

import "github.com/shopspring/decimal"

// Unit is a rentable unit inside a plot. Read-only from the gateway's
// perspective; billing figures are maintained by the landlord app.
type Unit struct {
	Code         string          `json:"code"`
	TenantName   string          `json:"tenant_name"`
	TenantPhone  string          `json:"tenant_phone"`
	Rent         decimal.Decimal `json:"rent"`
	Garbage      decimal.Decimal `json:"garbage"`
	WaterReading decimal.Decimal `json:"water_reading"`
}

// Plot is a property with a set of units.
type Plot struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Units []Unit `json:"units"`
}
