package api

import (
	"context"
	"net/http"

	"github.com/leafsii/leafsii-lending/internal/calc"
	"github.com/leafsii/leafsii-lending/internal/ledger"
)

func (h *Handler) marketDTO(ctx context.Context, m *ledger.Market) (MarketDTO, error) {
	util, err := h.ledger.Utilization(ctx, m.Asset)
	if err != nil {
		return MarketDTO{}, err
	}
	rate, err := h.ledger.BorrowRate(ctx, m.Asset)
	if err != nil {
		return MarketDTO{}, err
	}

	dto := MarketDTO{
		Asset:            m.Asset,
		TotalDeposits:    h.human(m.Asset, m.TotalDeposits),
		TotalBorrows:     h.human(m.Asset, m.TotalBorrows),
		TotalDepositsRaw: m.TotalDeposits.Dec(),
		TotalBorrowsRaw:  m.TotalBorrows.Dec(),
		BorrowIndex:      calc.IndexToDecimal(m.BorrowIndex).String(),
		LastAccrualTime:  m.LastAccrualTime,
		Utilization:      calc.BpsToRatio(util).String(),
		BorrowAPR:        calc.BpsToRatio(rate).String(),
	}
	if feed, ok := h.oracle.Registry().Feed(m.Asset); ok {
		dto.Symbol = feed.Symbol
		dto.Decimals = feed.Decimals
	}
	if q, err := h.oracle.Quote(m.Asset); err != nil {
		dto.PriceError = err.Error()
	} else {
		dto.PriceUSD = q.USD.String()
		dto.PriceSource = q.Source
	}
	return dto, nil
}

func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.ledger.Markets(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	out := make([]MarketDTO, 0, len(markets))
	for _, m := range markets {
		dto, err := h.marketDTO(r.Context(), m)
		if err != nil {
			h.writeLedgerError(w, r, err)
			return
		}
		out = append(out, dto)
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.ledger.Market(r.Context(), pathAddress(r, "asset"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	dto, err := h.marketDTO(r.Context(), m)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dto)
}

// ListMarket opens a market. The caller must be an admin.
func (h *Handler) ListMarket(w http.ResponseWriter, r *http.Request) {
	var req ListMarketRequest
	if !h.decode(w, r, &req) {
		return
	}
	asset := ledger.Address(req.Asset)
	if _, ok := h.decimals(asset); !ok {
		h.writeError(w, http.StatusNotFound, "UNKNOWN_ASSET", "asset has no price feed configured")
		return
	}

	if err := h.ledger.ListMarket(r.Context(), caller(r), asset); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.logger.Infow("Market listed", "asset", asset, "caller", caller(r))

	m, err := h.ledger.Market(r.Context(), asset)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	dto, err := h.marketDTO(r.Context(), m)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, dto)
}

func (h *Handler) AccrueMarket(w http.ResponseWriter, r *http.Request) {
	asset := pathAddress(r, "asset")
	idx, err := h.ledger.Accrue(r.Context(), asset)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AccrueDTO{
		Asset:       asset,
		BorrowIndex: calc.IndexToDecimal(idx).String(),
		AsOf:        h.now().Unix(),
	})
}

func (h *Handler) ListPrices(w http.ResponseWriter, r *http.Request) {
	quotes := h.oracle.Quotes()
	out := make([]QuoteDTO, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, QuoteDTO{
			Asset:     q.Asset,
			Symbol:    q.Symbol,
			USD:       q.USD.String(),
			Source:    q.Source,
			UpdatedAt: q.UpdatedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}
