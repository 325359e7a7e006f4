// Package pricing computes per-vendor totals for a complete basket.
package pricing

import (
	"sort"

	"quote-agent/internal/domain"
)

// Compare prices the basket at every vendor able to supply all resolved
// lines. Vendors missing any line are excluded from the ranking entirely,
// not treated as partial. The result is ordered cheapest first; the total
// tie-break is the smallest vendor id.
func Compare(b *domain.Basket) domain.Comparison {
	lines := b.ResolvedLines()
	if len(lines) == 0 {
		return domain.Comparison{}
	}

	// Each vendor's cheapest offer per line, keyed by vendor id.
	type vendorBids struct {
		name string
		bids map[string]domain.CatalogOffer // category -> offer
	}
	vendors := make(map[string]*vendorBids)
	for _, line := range lines {
		for _, o := range line.Offers {
			v, ok := vendors[o.VendorID]
			if !ok {
				v = &vendorBids{name: o.VendorName, bids: make(map[string]domain.CatalogOffer)}
				vendors[o.VendorID] = v
			}
			bid, ok := v.bids[line.Category]
			if !ok || o.UnitPrice < bid.UnitPrice {
				v.bids[line.Category] = o
			}
		}
	}

	var totals []domain.VendorTotal
	for vendorID, v := range vendors {
		if len(v.bids) != len(lines) {
			continue // cannot supply every line
		}
		vt := domain.VendorTotal{VendorID: vendorID, VendorName: v.name}
		for _, line := range lines {
			bid := v.bids[line.Category]
			qty := line.Quantity
			if qty <= 0 {
				qty = 1
			}
			subtotal := bid.UnitPrice * float64(qty)
			vt.Lines = append(vt.Lines, domain.QuoteLine{
				ItemName:  bid.ItemName,
				Category:  line.Category,
				Quantity:  qty,
				UnitPrice: bid.UnitPrice,
				Subtotal:  subtotal,
			})
			vt.Total += subtotal
		}
		totals = append(totals, vt)
	}

	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Total != totals[j].Total {
			return totals[i].Total < totals[j].Total
		}
		return totals[i].VendorID < totals[j].VendorID
	})

	cmp := domain.Comparison{Vendors: totals}
	if len(totals) >= 2 {
		cmp.HasRunnerUp = true
		cmp.SavingsVsNext = totals[1].Total - totals[0].Total
	}
	return cmp
}
