package domain

import "time"

// Phase is the dialogue phase of a quote session.
type Phase string

const (
	PhaseCollecting      Phase = "collecting"
	PhaseQuoteShown      Phase = "quote_shown"
	PhaseBestDetailShown Phase = "best_detail_shown"
	PhaseAllDetailShown  Phase = "all_detail_shown"
	PhaseFinalized       Phase = "finalized"
)

// QuoteSession tracks one user's dialogue phase around a computed quote.
type QuoteSession struct {
	UserID         string
	Phase          Phase
	LastQuote      *Comparison
	LastActivityAt time.Time
}

// QuoteLine is one priced basket line at a specific vendor.
type QuoteLine struct {
	ItemName  string
	Category  string
	Quantity  int
	UnitPrice float64
	Subtotal  float64
}

// VendorTotal is one eligible vendor's full-basket price.
type VendorTotal struct {
	VendorID   string
	VendorName string
	Total      float64
	Lines      []QuoteLine
}

// Comparison is the result of pricing a complete basket across vendors.
// Vendors is ordered cheapest first and contains only vendors able to
// supply every resolved line. SavingsVsNext is zero when there is no
// runner-up; HasRunnerUp distinguishes that from a genuine zero delta.
type Comparison struct {
	Vendors       []VendorTotal
	SavingsVsNext float64
	HasRunnerUp   bool
}

// Cheapest returns the winning vendor, or nil when no vendor is eligible.
func (c *Comparison) Cheapest() *VendorTotal {
	if c == nil || len(c.Vendors) == 0 {
		return nil
	}
	return &c.Vendors[0]
}
