package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/storekeep-erp/storekeep/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/items", h.handleCreateItem)
	r.Get("/items/{id}", h.handleGetItem)
	r.Get("/items/{id}/ledger", h.handleLedger)
	r.Post("/adjustments", h.handleAdjustment)
}

type createItemRequest struct {
	Code          string `json:"code" validate:"required,max=50"`
	Description   string `json:"description"`
	MinStockLevel int64  `json:"min_stock_level" validate:"gte=0"`
}

type itemResponse struct {
	ID             int64  `json:"id"`
	Code           string `json:"code"`
	Description    string `json:"description"`
	CurrentBalance int64  `json:"current_balance"`
	CurrentPrice   string `json:"current_price"`
	MinStockLevel  int64  `json:"min_stock_level"`
	LowStock       bool   `json:"low_stock"`
}

func toItemResponse(item Item) itemResponse {
	return itemResponse{
		ID:             item.ID,
		Code:           item.Code,
		Description:    item.Description,
		CurrentBalance: item.CurrentBalance,
		CurrentPrice:   item.CurrentPrice.StringFixed(2),
		MinStockLevel:  item.MinStockLevel,
		LowStock:       item.LowStock(),
	}
}

func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	item, err := h.service.CreateItem(r.Context(), CreateItemInput{Code: req.Code, Description: req.Description, MinStockLevel: req.MinStockLevel})
	if err != nil {
		h.logger.Warn("create item", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toItemResponse(item))
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid item id")
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

type ledgerEntryResponse struct {
	ID           int64  `json:"id"`
	Type         string `json:"transaction_type"`
	Ref          string `json:"reference"`
	QuantityIn   int64  `json:"quantity_in"`
	QuantityOut  int64  `json:"quantity_out"`
	BalanceAfter int64  `json:"balance_after"`
	UnitPrice    string `json:"unit_price"`
	TotalPrice   string `json:"total_price"`
	Date         string `json:"date"`
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid item id")
		return
	}
	filter := LedgerFilter{ItemID: id}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			filter.Limit = limit
		}
	}
	entries, err := h.service.ListLedger(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		ref := e.RefKind
		if e.RefID != 0 {
			ref = ref + "-" + strconv.FormatInt(e.RefID, 10)
		}
		out = append(out, ledgerEntryResponse{
			ID:           e.ID,
			Type:         string(e.Type),
			Ref:          ref,
			QuantityIn:   e.QuantityIn,
			QuantityOut:  e.QuantityOut,
			BalanceAfter: e.BalanceAfter,
			UnitPrice:    e.UnitPrice.StringFixed(2),
			TotalPrice:   e.TotalPrice.StringFixed(2),
			Date:         e.Date.Format(time.DateOnly),
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

type adjustmentRequest struct {
	ItemID    int64  `json:"item_id" validate:"required"`
	Direction string `json:"direction" validate:"required,oneof=in out"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	UnitPrice string `json:"unit_price" validate:"omitempty"`
	Date      string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	ActorID   int64  `json:"actor_id"`
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	price := decimal.Zero
	if req.UnitPrice != "" {
		parsed, err := decimal.NewFromString(req.UnitPrice)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_price must be a decimal number")
			return
		}
		price = parsed
	}
	var date time.Time
	if req.Date != "" {
		date, _ = time.Parse(time.DateOnly, req.Date)
	}
	entry, err := h.service.Post(r.Context(), PostInput{
		ItemID:    req.ItemID,
		Direction: Direction(req.Direction),
		Type:      TransactionAdjustment,
		Quantity:  req.Quantity,
		UnitPrice: price,
		Date:      date,
		Ref:       Reference{Kind: "ADJ"},
		ActorID:   req.ActorID,
	})
	if err != nil {
		h.logger.Warn("post adjustment", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":            entry.ID,
		"balance_after": entry.BalanceAfter,
		"unit_price":    entry.UnitPrice.StringFixed(2),
	})
}
