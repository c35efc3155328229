package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
	"github.com/peterkariuk1/jobawu-gateway/internal/infra/resilience"
)

type unitRow struct {
	Code         string  `json:"code"`
	TenantName   string  `json:"tenant_name"`
	TenantPhone  string  `json:"tenant_phone"`
	Rent         float64 `json:"rent"`
	Garbage      float64 `json:"garbage"`
	WaterReading float64 `json:"water_reading"`
}

type plotRow struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Units []unitRow `json:"units"`
}

// GetAllPlotsWithUnits fetches every plot with its units embedded. This
// is the read the reconciler resolves paying phone numbers against, so
// it runs under the circuit breaker with retries.
func (c *Client) GetAllPlotsWithUnits(ctx context.Context) ([]domain.Plot, error) {
	ctx, span := tracer.Start(ctx, "Ledger.GetAllPlotsWithUnits")
	defer span.End()

	var plots []domain.Plot

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := c.doGet(ctx, "plots?select=*,units(*)&order=name.asc")
			if err != nil {
				return err
			}
			if body == nil || string(body) == "[]" {
				plots = []domain.Plot{}
				return nil
			}

			var rows []plotRow
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("decode plots: %w", err)
			}

			plots = make([]domain.Plot, 0, len(rows))
			for _, r := range rows {
				units := make([]domain.Unit, 0, len(r.Units))
				for _, u := range r.Units {
					units = append(units, domain.Unit{
						Code:         u.Code,
						TenantName:   u.TenantName,
						TenantPhone:  u.TenantPhone,
						Rent:         decimal.NewFromFloat(u.Rent),
						Garbage:      decimal.NewFromFloat(u.Garbage),
						WaterReading: decimal.NewFromFloat(u.WaterReading),
					})
				}
				plots = append(plots, domain.Plot{ID: r.ID, Name: r.Name, Units: units})
			}
			return nil
		})
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "ledger/plots", Err: err}
	}

	return plots, nil
}
