package domain

import "time"

// ItemRequest is one user-requested item as returned by the extraction
// oracle. Ephemeral, produced per settled turn.
type ItemRequest struct {
	RawMention    string `json:"raw_mention"`
	Category      string `json:"category"`
	Specification string `json:"specification"`
	Quantity      int    `json:"quantity"`
}

// BasketLine resolution status.
type LineStatus string

const (
	LineResolved           LineStatus = "resolved"
	LineNeedsClarification LineStatus = "needs_clarification"
)

// BasketLine is one category's resolution slot within a basket.
//
// Offers holds every offer matching the resolved specification so the
// comparator can price the line at each vendor, not just the chosen one.
// Unavailable marks a category with no catalog offers at all: the line is
// resolved (it never blocks the basket) but carries no offer.
type BasketLine struct {
	Category      string
	RequestedSpec string
	Quantity      int
	Status        LineStatus
	Unavailable   bool
	ChosenOffer   *CatalogOffer
	Candidates    []CatalogOffer
	Offers        []CatalogOffer
}

// Basket is the per-user in-progress set of requested categories.
type Basket struct {
	UserID       string
	Lines        map[string]*BasketLine
	Order        []string
	CreatedAt    time.Time
	LastActivity time.Time
}

// Complete reports whether every line is resolved.
func (b *Basket) Complete() bool {
	if b == nil || len(b.Lines) == 0 {
		return false
	}
	for _, line := range b.Lines {
		if line.Status != LineResolved {
			return false
		}
	}
	return true
}

// FirstOpenLine returns the first line, in first-requested order, that still
// needs clarification. Only one open question is surfaced at a time.
func (b *Basket) FirstOpenLine() *BasketLine {
	if b == nil {
		return nil
	}
	for _, cat := range b.Order {
		if line := b.Lines[cat]; line != nil && line.Status == LineNeedsClarification {
			return line
		}
	}
	return nil
}

// ResolvedLines returns the resolved, available lines in first-requested order.
func (b *Basket) ResolvedLines() []*BasketLine {
	if b == nil {
		return nil
	}
	lines := make([]*BasketLine, 0, len(b.Order))
	for _, cat := range b.Order {
		if line := b.Lines[cat]; line != nil && line.Status == LineResolved && !line.Unavailable {
			lines = append(lines, line)
		}
	}
	return lines
}

// UnavailableLines returns the categories that had no catalog offers.
func (b *Basket) UnavailableLines() []*BasketLine {
	if b == nil {
		return nil
	}
	var lines []*BasketLine
	for _, cat := range b.Order {
		if line := b.Lines[cat]; line != nil && line.Unavailable {
			lines = append(lines, line)
		}
	}
	return lines
}
