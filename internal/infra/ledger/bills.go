package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
)

// billRow maps the bills table columns to our domain.
type billRow struct {
	ID               string     `json:"id"`
	Plot             string     `json:"plot"`
	Unit             string     `json:"unit"`
	Month            int        `json:"month"`
	Year             int        `json:"year"`
	TenantPhone      string     `json:"tenant_phone"`
	Rent             float64    `json:"rent"`
	Garbage          float64    `json:"garbage"`
	PrevWaterReading float64    `json:"prev_water_reading"`
	CurrWaterReading float64    `json:"curr_water_reading"`
	WaterCharge      float64    `json:"water_charge"`
	GrossTotal       float64    `json:"gross_total"`
	CarryForward     float64    `json:"carry_forward"`
	NetTotal         float64    `json:"net_total"`
	BankPaid         float64    `json:"bank_paid"`
	CashPaid         float64    `json:"cash_paid"`
	Balance          float64    `json:"balance"`
	Paid             bool       `json:"paid"`
	TransactionRef   string     `json:"transaction_ref,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func billFromRow(r billRow) domain.Bill {
	return domain.Bill{
		ID:               r.ID,
		Plot:             r.Plot,
		Unit:             r.Unit,
		Month:            r.Month,
		Year:             r.Year,
		TenantPhone:      r.TenantPhone,
		Rent:             decimal.NewFromFloat(r.Rent),
		Garbage:          decimal.NewFromFloat(r.Garbage),
		PrevWaterReading: decimal.NewFromFloat(r.PrevWaterReading),
		CurrWaterReading: decimal.NewFromFloat(r.CurrWaterReading),
		WaterCharge:      decimal.NewFromFloat(r.WaterCharge),
		GrossTotal:       decimal.NewFromFloat(r.GrossTotal),
		CarryForward:     decimal.NewFromFloat(r.CarryForward),
		NetTotal:         decimal.NewFromFloat(r.NetTotal),
		BankPaid:         decimal.NewFromFloat(r.BankPaid),
		CashPaid:         decimal.NewFromFloat(r.CashPaid),
		Balance:          decimal.NewFromFloat(r.Balance),
		Paid:             r.Paid,
		TransactionRef:   r.TransactionRef,
		PaidAt:           r.PaidAt,
		CreatedAt:        r.CreatedAt,
	}
}

func billToRow(b *domain.Bill) billRow {
	return billRow{
		ID:               b.ID,
		Plot:             b.Plot,
		Unit:             b.Unit,
		Month:            b.Month,
		Year:             b.Year,
		TenantPhone:      b.TenantPhone,
		Rent:             b.Rent.InexactFloat64(),
		Garbage:          b.Garbage.InexactFloat64(),
		PrevWaterReading: b.PrevWaterReading.InexactFloat64(),
		CurrWaterReading: b.CurrWaterReading.InexactFloat64(),
		WaterCharge:      b.WaterCharge.InexactFloat64(),
		GrossTotal:       b.GrossTotal.InexactFloat64(),
		CarryForward:     b.CarryForward.InexactFloat64(),
		NetTotal:         b.NetTotal.InexactFloat64(),
		BankPaid:         b.BankPaid.InexactFloat64(),
		CashPaid:         b.CashPaid.InexactFloat64(),
		Balance:          b.Balance.InexactFloat64(),
		Paid:             b.Paid,
		TransactionRef:   b.TransactionRef,
		PaidAt:           b.PaidAt,
		CreatedAt:        b.CreatedAt,
	}
}

// GetBill fetches the bill for a plot-unit-month-year composite key.
// Returns *domain.ErrNotFound when no such bill exists yet.
func (c *Client) GetBill(ctx context.Context, plot, unit string, month, year int) (*domain.Bill, error) {
	ctx, span := tracer.Start(ctx, "Ledger.GetBill")
	defer span.End()
	span.SetAttributes(
		attribute.String("bill.plot", plot),
		attribute.String("bill.unit", unit),
		attribute.Int("bill.month", month),
		attribute.Int("bill.year", year),
	)

	path := fmt.Sprintf("bills?plot=eq.%s&unit=eq.%s&month=eq.%d&year=eq.%d&limit=1",
		url.QueryEscape(plot), url.QueryEscape(unit), month, year)
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "ledger/bills", Err: err}
	}
	if body == nil || string(body) == "[]" {
		return nil, &domain.ErrNotFound{
			Resource: "bill",
			ID:       fmt.Sprintf("%s/%s/%02d-%d", plot, unit, month, year),
		}
	}

	var rows []billRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode bill: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{
			Resource: "bill",
			ID:       fmt.Sprintf("%s/%s/%02d-%d", plot, unit, month, year),
		}
	}

	bill := billFromRow(rows[0])
	return &bill, nil
}

// UpsertBill writes a bill keyed on its composite key. A rewrite of the
// same key merges, so a retried write cannot create a second bill for
// the same period.
func (c *Client) UpsertBill(ctx context.Context, bill *domain.Bill) error {
	ctx, span := tracer.Start(ctx, "Ledger.UpsertBill")
	defer span.End()

	_, err := c.doPost(ctx, "bills?on_conflict=plot,unit,month,year",
		billToRow(bill), "resolution=merge-duplicates,return=minimal")
	if err != nil {
		return &domain.ErrExternalService{Service: "ledger/bills", Err: err}
	}
	return nil
}

// QueryBillsByPhoneAndPeriod lists bills for a tenant phone in a period.
func (c *Client) QueryBillsByPhoneAndPeriod(ctx context.Context, phone string, month, year int) ([]domain.Bill, error) {
	ctx, span := tracer.Start(ctx, "Ledger.QueryBillsByPhoneAndPeriod")
	defer span.End()

	path := fmt.Sprintf("bills?tenant_phone=eq.%s&month=eq.%d&year=eq.%d&order=created_at.desc",
		url.QueryEscape(phone), month, year)
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "ledger/bills", Err: err}
	}
	if body == nil || string(body) == "[]" {
		return []domain.Bill{}, nil
	}

	var rows []billRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode bills: %w", err)
	}

	bills := make([]domain.Bill, 0, len(rows))
	for _, r := range rows {
		bills = append(bills, billFromRow(r))
	}
	return bills, nil
}
