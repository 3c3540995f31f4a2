package holdings

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/omerros/trackfolio/internal/domain"
)

// LedgerReader provides the capped full-ledger read the recompute needs.
type LedgerReader interface {
	GetAllUnpaginated(userID string) ([]domain.Transaction, error)
}

// QuoteProvider resolves a live price for a symbol, falling back to REST
// when the streaming cache has no entry. Returns domain.ErrPriceUnavailable
// when no quote can be produced at all.
type QuoteProvider interface {
	GetPriceAsync(ctx context.Context, symbol string) (domain.Money, error)
}

// HoldingView is a holding enriched with the read-time metrics: unrealized
// P/L and the risk numbers derived from the user's stop loss.
type HoldingView struct {
	domain.Holding

	UnrealizedPL        domain.Money `json:"unrealizedPL"`
	UnrealizedPLPercent float64      `json:"unrealizedPLPercent"`
	RiskDollar          domain.Money `json:"riskDollar"`
	RiskPercent         float64      `json:"riskPercent"`
	TotalPercent        float64      `json:"totalPercent"`

	// PriceStale is set when no live quote was available and the value
	// was computed from the last stored price instead.
	PriceStale bool `json:"priceStale,omitempty"`
}

// PortfolioView is the full portfolio read result. It is always internally
// consistent: every row was computed in the same pass from the same ledger.
type PortfolioView struct {
	Holdings            []HoldingView `json:"holdings"`
	TotalSpent          domain.Money  `json:"totalSpent"`
	TotalValue          domain.Money  `json:"totalValue"`
	UnrealizedPL        domain.Money  `json:"unrealizedPL"`
	UnrealizedPLPercent float64       `json:"unrealizedPLPercent"`
	Recomputed          bool          `json:"recomputed"`
}

// Service coordinates the staleness gate, the FIFO recompute and valuation.
type Service struct {
	repo    *Repository
	ledgers LedgerReader
	quotes  QuoteProvider
	log     zerolog.Logger
}

// NewService creates a holdings service.
func NewService(repo *Repository, ledgers LedgerReader, quotes QuoteProvider, log zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		ledgers: ledgers,
		quotes:  quotes,
		log:     log.With().Str("service", "holdings").Logger(),
	}
}

// Get returns the stored holding rows as-is, stale or not.
func (s *Service) Get(userID string) ([]domain.Holding, error) {
	return s.repo.GetByUser(userID)
}

// Invalidate marks the given tickers stale for the user.
func (s *Service) Invalidate(userID string, tickers []string) error {
	return s.repo.Invalidate(userID, tickers)
}

// Sync valuates and upserts externally computed holdings, replacing the
// stored projection with the supplied rows. The computed input carries no
// annotations; stop loss and entry reason on existing rows are preserved,
// and stored prices back the valuation when no live quote is available.
func (s *Service) Sync(ctx context.Context, userID string, computed []domain.ComputedHolding) (PortfolioView, error) {
	stored, err := s.repo.GetByUser(userID)
	if err != nil {
		return PortfolioView{}, err
	}

	valued := s.valuate(ctx, userID, computed, stored)
	fresh, err := s.repo.Sync(userID, valued)
	if err != nil {
		return PortfolioView{}, err
	}

	s.log.Info().
		Str("user_id", userID).
		Int("holdings", len(valued)).
		Msg("Holdings synced from supplied rows")

	return buildPortfolioView(fresh), nil
}

// UpdateAnnotation sets the user annotations on a holding.
func (s *Service) UpdateAnnotation(userID, ticker string, stopLoss domain.Money, entryReason string) (domain.Holding, error) {
	return s.repo.UpdateAnnotation(userID, ticker, stopLoss, entryReason)
}

// Portfolio serves the portfolio view, enforcing the all-or-nothing
// staleness contract: if any stored row is stale, or no rows exist, the
// entire projection is recomputed from the full ledger before anything is
// returned. A response never mixes stale and fresh rows.
func (s *Service) Portfolio(ctx context.Context, userID string) (PortfolioView, error) {
	stored, err := s.repo.GetByUser(userID)
	if err != nil {
		return PortfolioView{}, err
	}

	stale := len(stored) == 0
	for _, h := range stored {
		if h.LastSyncedAt == nil {
			stale = true
			break
		}
	}

	recomputed := false
	if stale {
		stored, err = s.recompute(ctx, userID, stored)
		if err != nil {
			return PortfolioView{}, err
		}
		recomputed = true
	}

	view := buildPortfolioView(stored)
	view.Recomputed = recomputed
	return view, nil
}

// ForceSync recomputes the projection from the full ledger regardless of
// whether the stored rows are stale.
func (s *Service) ForceSync(ctx context.Context, userID string) (PortfolioView, error) {
	stored, err := s.repo.GetByUser(userID)
	if err != nil {
		return PortfolioView{}, err
	}

	fresh, err := s.recompute(ctx, userID, stored)
	if err != nil {
		return PortfolioView{}, err
	}

	view := buildPortfolioView(fresh)
	view.Recomputed = true
	return view, nil
}

// recompute pulls the full ledger, replays it through FIFO accounting,
// valuates the result with live quotes and writes the projection back.
func (s *Service) recompute(ctx context.Context, userID string, stored []domain.Holding) ([]domain.Holding, error) {
	txns, err := s.ledgers.GetAllUnpaginated(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger for recompute: %w", err)
	}

	computed := ComputeFIFO(txns)
	valued := s.valuate(ctx, userID, computed, stored)

	fresh, err := s.repo.Sync(userID, valued)
	if err != nil {
		return nil, fmt.Errorf("failed to sync recomputed holdings: %w", err)
	}

	s.log.Info().
		Str("user_id", userID).
		Int("transactions", len(txns)).
		Int("holdings", len(valued)).
		Msg("Holdings recomputed from ledger")

	return fresh, nil
}

// valuate fills LastPrice and TotalValue on computed holdings. A holding
// whose quote cannot be fetched keeps the previously stored price rather
// than being silently valued at zero; with no stored price either, the
// value stays zero and the average cost is still correct.
func (s *Service) valuate(ctx context.Context, userID string, computed []domain.ComputedHolding, stored []domain.Holding) []domain.ComputedHolding {
	lastKnown := make(map[string]domain.Money, len(stored))
	for _, h := range stored {
		lastKnown[h.Ticker] = h.LastPrice
	}

	out := make([]domain.ComputedHolding, 0, len(computed))
	for _, ch := range computed {
		if ch.LastPrice.IsZero() {
			price, err := s.quotes.GetPriceAsync(ctx, ch.Ticker)
			switch {
			case err == nil:
				ch.LastPrice = price
			case errors.Is(err, domain.ErrPriceUnavailable):
				ch.LastPrice = lastKnown[ch.Ticker]
				s.log.Warn().
					Str("user_id", userID).
					Str("ticker", ch.Ticker).
					Msg("No live quote, valuing with last stored price")
			default:
				ch.LastPrice = lastKnown[ch.Ticker]
				s.log.Error().Err(err).
					Str("ticker", ch.Ticker).
					Msg("Quote lookup failed")
			}
		}
		ch.TotalValue = ch.LastPrice.MulInt(ch.TotalShares).Round2()
		out = append(out, ch)
	}
	return out
}

// buildPortfolioView derives the read-time metrics for a set of fresh rows.
func buildPortfolioView(rows []domain.Holding) PortfolioView {
	totalSpent := domain.ZeroMoney()
	totalValue := domain.ZeroMoney()

	held := make([]domain.Holding, 0, len(rows))
	for _, h := range rows {
		if h.TotalShares <= 0 {
			continue
		}
		held = append(held, h)
		totalSpent = totalSpent.Add(h.TotalSpent)
		totalValue = totalValue.Add(h.TotalValue)
	}

	views := make([]HoldingView, 0, len(held))
	for _, h := range held {
		view := HoldingView{Holding: h}
		view.UnrealizedPL = h.TotalValue.Sub(h.TotalSpent).Round2()
		if h.TotalSpent.IsPositive() {
			view.UnrealizedPLPercent = view.UnrealizedPL.Decimal().
				Div(h.TotalSpent.Decimal()).InexactFloat64() * 100
		}
		view.PriceStale = h.LastPrice.IsZero()

		// riskDollar = max(0, totalValue - stopLoss*shares) when a stop
		// loss is set: the exposure above the stop.
		if h.StopLoss.IsPositive() {
			atStop := h.StopLoss.MulInt(h.TotalShares)
			risk := h.TotalValue.Sub(atStop)
			if risk.IsNegative() {
				risk = domain.ZeroMoney()
			}
			view.RiskDollar = risk.Round2()
		} else {
			view.RiskDollar = domain.ZeroMoney()
		}
		if totalValue.IsPositive() {
			view.RiskPercent = view.RiskDollar.Decimal().
				Div(totalValue.Decimal()).InexactFloat64() * 100
			view.TotalPercent = h.TotalValue.Decimal().
				Div(totalValue.Decimal()).InexactFloat64() * 100
		}
		views = append(views, view)
	}

	unrealized := totalValue.Sub(totalSpent)
	view := PortfolioView{
		Holdings:     views,
		TotalSpent:   totalSpent.Round2(),
		TotalValue:   totalValue.Round2(),
		UnrealizedPL: unrealized.Round2(),
	}
	if totalSpent.IsPositive() {
		view.UnrealizedPLPercent = unrealized.Decimal().
			Div(totalSpent.Decimal()).InexactFloat64() * 100
	}
	return view
}
