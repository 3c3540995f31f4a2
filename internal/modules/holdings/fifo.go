package holdings

import (
	"sort"

	"github.com/omerros/trackfolio/internal/domain"
)

// lot is a single buy parcel awaiting FIFO consumption.
type lot struct {
	shares int64
	price  domain.Money // per share
}

// position accumulates one ticker's state while replaying the ledger.
type position struct {
	ticker     string
	lots       []lot
	totalShare int64
	totalSpent domain.Money
}

// ComputeFIFO replays a user's transactions in ascending executedAt order
// and derives per-ticker cost basis using FIFO lot accounting: sells consume
// the oldest buy lots first, and the cost basis removed is the cost of the
// consumed lots, not the sell proceeds.
//
// Tickers whose share count ends at or below zero are excluded from the
// result. The returned holdings carry no valuation; LastPrice and TotalValue
// are filled in by the caller once quotes are known.
func ComputeFIFO(txns []domain.Transaction) []domain.ComputedHolding {
	ordered := make([]domain.Transaction, len(txns))
	copy(ordered, txns)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExecutedAt.Before(ordered[j].ExecutedAt)
	})

	positions := make(map[string]*position)
	order := make([]string, 0)

	for _, txn := range ordered {
		pos, ok := positions[txn.Ticker]
		if !ok {
			pos = &position{ticker: txn.Ticker, totalSpent: domain.ZeroMoney()}
			positions[txn.Ticker] = pos
			order = append(order, txn.Ticker)
		}

		switch txn.Operation {
		case domain.OperationBuy:
			pos.lots = append(pos.lots, lot{shares: txn.Shares, price: txn.Price})
			pos.totalShare += txn.Shares
			pos.totalSpent = pos.totalSpent.Add(txn.Price.MulInt(txn.Shares))

		case domain.OperationSell:
			removed := pos.consume(txn.Shares)
			pos.totalShare -= txn.Shares
			pos.totalSpent = pos.totalSpent.Sub(removed)
		}
	}

	result := make([]domain.ComputedHolding, 0, len(order))
	for _, ticker := range order {
		pos := positions[ticker]
		if pos.totalShare <= 0 {
			continue
		}
		result = append(result, domain.ComputedHolding{
			Ticker:       ticker,
			TotalShares:  pos.totalShare,
			AveragePrice: pos.totalSpent.DivInt(pos.totalShare).Round2(),
			TotalSpent:   pos.totalSpent.Round2(),
		})
	}
	return result
}

// consume removes shares from the oldest lots first and returns the cost
// basis of the consumed shares. Selling more shares than the lots hold
// consumes everything available; the surplus carries no cost basis.
func (p *position) consume(shares int64) domain.Money {
	removed := domain.ZeroMoney()
	remaining := shares

	for remaining > 0 && len(p.lots) > 0 {
		oldest := &p.lots[0]
		if oldest.shares <= remaining {
			removed = removed.Add(oldest.price.MulInt(oldest.shares))
			remaining -= oldest.shares
			p.lots = p.lots[1:]
		} else {
			removed = removed.Add(oldest.price.MulInt(remaining))
			oldest.shares -= remaining
			remaining = 0
		}
	}
	return removed
}
