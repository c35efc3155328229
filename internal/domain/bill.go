package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewBillID returns a fresh document id for an auto-created bill. Bills
// are looked up by their composite key, the id only names the document.
func NewBillID() string {
	return uuid.New().String()
}

// Period identifies a billing month.
type Period struct {
	Month int `json:"month"` // 1-12
	Year  int `json:"year"`
}

// Previous returns the immediately preceding billing period.
func (p Period) Previous() Period {
	if p.Month == 1 {
		return Period{Month: 12, Year: p.Year - 1}
	}
	return Period{Month: p.Month - 1, Year: p.Year}
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Bill is one rent bill for a plot-unit-month-year. Exactly one bill
// exists per composite key.
type Bill struct {
	ID string `json:"id"`

	Plot  string `json:"plot"`
	Unit  string `json:"unit"`
	Month int    `json:"month"`
	Year  int    `json:"year"`

	// TenantPhone is denormalized from the unit so bills can be queried
	// by the paying phone number.
	TenantPhone string `json:"tenant_phone"`

	Rent    decimal.Decimal `json:"rent"`
	Garbage decimal.Decimal `json:"garbage"`

	PrevWaterReading decimal.Decimal `json:"prev_water_reading"`
	CurrWaterReading decimal.Decimal `json:"curr_water_reading"`
	WaterCharge      decimal.Decimal `json:"water_charge"`

	// GrossTotal = Rent + Garbage + WaterCharge.
	GrossTotal decimal.Decimal `json:"gross_total"`
	// CarryForward is the credit applied from the prior period's
	// overpayment, floored so NetTotal never goes below zero.
	CarryForward decimal.Decimal `json:"carry_forward"`
	// NetTotal = max(GrossTotal - CarryForward, 0).
	NetTotal decimal.Decimal `json:"net_total"`

	BankPaid decimal.Decimal `json:"bank_paid"`
	CashPaid decimal.Decimal `json:"cash_paid"`
	// Balance = NetTotal - (BankPaid + CashPaid). Negative = overpaid.
	Balance decimal.Decimal `json:"balance"`
	Paid    bool            `json:"paid"`

	// TransactionRef points at the transaction that satisfied the bill.
	TransactionRef string     `json:"transaction_ref,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Period returns the bill's billing period.
func (b *Bill) Period() Period {
	return Period{Month: b.Month, Year: b.Year}
}

// NewBill creates a bill for a unit's current figures. Water is billed
// zero until a meter reading is explicitly recorded, so WaterCharge
// starts at zero and CurrWaterReading mirrors the unit's last reading.
func NewBill(plot string, unit Unit, period Period, carryForward decimal.Decimal, now time.Time) *Bill {
	b := &Bill{
		ID:               NewBillID(),
		Plot:             plot,
		Unit:             unit.Code,
		Month:            period.Month,
		Year:             period.Year,
		TenantPhone:      unit.TenantPhone,
		Rent:             unit.Rent,
		Garbage:          unit.Garbage,
		PrevWaterReading: unit.WaterReading,
		CurrWaterReading: unit.WaterReading,
		WaterCharge:      decimal.Zero,
		CarryForward:     carryForward,
		BankPaid:         decimal.Zero,
		CashPaid:         decimal.Zero,
		CreatedAt:        now,
	}
	b.Recompute(now)
	return b
}

// ApplyBankPayment adds a bank payment to the bill and recomputes totals.
// PaidAt is only stamped on the transition into the paid state.
func (b *Bill) ApplyBankPayment(amount decimal.Decimal, txID string, now time.Time) {
	b.BankPaid = b.BankPaid.Add(amount)
	b.TransactionRef = txID
	b.Recompute(now)
}

// Recompute refreshes GrossTotal, NetTotal, Balance and the paid flag
// from the bill's component amounts.
func (b *Bill) Recompute(now time.Time) {
	b.GrossTotal = b.Rent.Add(b.Garbage).Add(b.WaterCharge)

	net := b.GrossTotal.Sub(b.CarryForward)
	if net.IsNegative() {
		// Carry-forward can zero a bill out but never invert it.
		net = decimal.Zero
	}
	b.NetTotal = net

	b.Balance = b.NetTotal.Sub(b.BankPaid.Add(b.CashPaid))

	wasPaid := b.Paid
	b.Paid = b.Balance.LessThanOrEqual(decimal.Zero)
	if b.Paid && !wasPaid && b.PaidAt == nil {
		t := now
		b.PaidAt = &t
	}
}

// CarryForwardCredit returns the credit this bill grants to the next
// period: the absolute value of a negative balance, or zero.
func (b *Bill) CarryForwardCredit() decimal.Decimal {
	if b.Balance.IsNegative() {
		return b.Balance.Neg()
	}
	return decimal.Zero
}
