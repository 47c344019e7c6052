package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/leafsii/leafsii-lending/internal/calc"
	"github.com/leafsii/leafsii-lending/internal/journal"
	"github.com/leafsii/leafsii-lending/internal/ledger"
)

func usd(v *uint256.Int) string {
	return calc.ToDecimal(v, 0).String()
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	user := pathAddress(r, "user")
	s, err := h.ledger.AccountStatus(r.Context(), user)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	dto := AccountDTO{
		User:                 user,
		Positions:            make([]PositionDTO, 0, len(s.Positions)),
		CollateralValue:      usd(s.CollateralValue),
		DiscountedCollateral: usd(s.DiscountedCollateral),
		BorrowValue:          usd(s.BorrowValue),
		Liquidity:            usd(s.Liquidity),
		Liquidatable:         s.Liquidatable,
		Wallet:               map[string]string{},
		AsOf:                 h.now().Unix(),
	}
	if ratio, ok := calc.HealthRatio(s.Health); ok {
		dto.Health = ratio.String()
	}
	for _, p := range s.Positions {
		dto.Positions = append(dto.Positions, PositionDTO{
			Asset:           p.Asset,
			Deposited:       h.human(p.Asset, p.Deposited),
			Debt:            h.human(p.Asset, p.Debt),
			DepositedRaw:    p.Deposited.Dec(),
			DebtRaw:         p.Debt.Dec(),
			CollateralValue: usd(p.CollateralValue),
			BorrowValue:     usd(p.BorrowValue),
		})
	}
	if h.vault != nil {
		for asset, bal := range h.vault.Holdings(user) {
			dto.Wallet[string(asset)] = h.human(asset, bal)
		}
	}
	h.writeJSON(w, http.StatusOK, dto)
}

// AccountOperation runs deposit, withdraw, borrow or repay for the user in
// the path.
func (h *Handler) AccountOperation(w http.ResponseWriter, r *http.Request) {
	user := pathAddress(r, "user")
	op := chi.URLParam(r, "op")

	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	asset := ledger.Address(req.Asset)
	amount, ok := h.parseAmount(w, asset, req.Amount)
	if !ok {
		return
	}

	ctx := r.Context()
	var err error
	switch op {
	case "deposit":
		err = h.ledger.Deposit(ctx, user, asset, amount)
	case "withdraw":
		err = h.ledger.Withdraw(ctx, user, asset, amount)
	case "borrow":
		err = h.ledger.Borrow(ctx, user, asset, amount)
	case "repay":
		amount, err = h.ledger.Repay(ctx, user, asset, amount)
	default:
		h.writeError(w, http.StatusNotFound, "UNKNOWN_OPERATION", "operation must be deposit, withdraw, borrow or repay")
		return
	}
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, OperationDTO{
		Operation: op,
		User:      user,
		Asset:     asset,
		Amount:    h.human(asset, amount),
		AmountRaw: amount.Dec(),
		AsOf:      h.now().Unix(),
	})
}

// Liquidate repays on behalf of a borrower. The liquidator is the caller
// header.
func (h *Handler) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidationRequest
	if !h.decode(w, r, &req) {
		return
	}
	liquidator := caller(r)
	if !liquidator.Valid() {
		h.writeError(w, http.StatusBadRequest, "MISSING_CALLER", CallerHeader+" header is required")
		return
	}
	borrowAsset := ledger.Address(req.BorrowAsset)
	collateralAsset := ledger.Address(req.CollateralAsset)
	amount, ok := h.parseAmount(w, borrowAsset, req.RepayAmount)
	if !ok {
		return
	}

	res, err := h.ledger.Liquidate(r.Context(), liquidator, ledger.Address(req.Borrower), borrowAsset, collateralAsset, amount)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	healthBefore, _ := calc.HealthRatio(res.HealthBefore)
	h.writeJSON(w, http.StatusOK, LiquidationDTO{
		Caller:          liquidator,
		Borrower:        ledger.Address(req.Borrower),
		BorrowAsset:     borrowAsset,
		CollateralAsset: collateralAsset,
		Repaid:          h.human(borrowAsset, res.Repaid),
		Seized:          h.human(collateralAsset, res.Seized),
		HealthBefore:    healthBefore.String(),
		AsOf:            h.now().Unix(),
	})
}

// Faucet credits wallet funds. Admin only.
func (h *Handler) Faucet(w http.ResponseWriter, r *http.Request) {
	if h.vault == nil {
		h.writeError(w, http.StatusNotImplemented, "FAUCET_DISABLED", "faucet is not enabled")
		return
	}
	if err := h.admins.Authorize(r.Context(), caller(r)); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	var req FaucetRequest
	if !h.decode(w, r, &req) {
		return
	}
	holder := ledger.Address(req.Holder)
	if !holder.Valid() {
		h.writeError(w, http.StatusBadRequest, "INVALID_HOLDER", "holder is required")
		return
	}
	asset := ledger.Address(req.Asset)
	amount, ok := h.parseAmount(w, asset, req.Amount)
	if !ok {
		return
	}
	if err := h.vault.Credit(asset, holder, amount); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.logger.Infow("Faucet credit", "asset", asset, "holder", holder, "amount", amount.Dec())

	h.writeJSON(w, http.StatusOK, OperationDTO{
		Operation: "faucet",
		User:      holder,
		Asset:     asset,
		Amount:    h.human(asset, amount),
		AmountRaw: amount.Dec(),
		AsOf:      h.now().Unix(),
	})
}

// ListEvents serves the journal, newest first.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		h.writeError(w, http.StatusServiceUnavailable, "JOURNAL_DISABLED", "event journal is not configured")
		return
	}

	q := r.URL.Query()
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			h.writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	// Fetch one extra row to report hasMore.
	records, err := h.journal.Recent(r.Context(), journal.Filter{
		User:  ledger.Address(q.Get("user")),
		Kind:  ledger.EventKind(q.Get("kind")),
		Asset: ledger.Address(q.Get("asset")),
		Limit: limit + 1,
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "JOURNAL_ERROR", err.Error())
		return
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}
	h.writeJSON(w, http.StatusOK, PaginatedResponse{Data: records, HasMore: hasMore})
}
