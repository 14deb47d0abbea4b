package procurement

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storekeep-erp/storekeep/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the procurement module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/suppliers", h.handleCreateSupplier)
	r.Post("/requisitions", h.handleCreatePR)
	r.Get("/requisitions/{id}", h.handleGetPR)
	r.Post("/requisitions/{id}/approve", h.handleApprovePR)
	r.Post("/requisitions/{id}/reject", h.handleRejectPR)
	r.Post("/requisitions/{id}/order", h.handleOrderPR)
	r.Post("/receivings", h.handleCreateGRN)
	r.Get("/receivings/{id}", h.handleGetGRN)
}

type prLineRequest struct {
	ItemID    int64  `json:"item_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	UnitPrice string `json:"unit_price" validate:"required"`
}

type createPRRequest struct {
	Date        string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	RequestedBy int64           `json:"requested_by" validate:"required"`
	Lines       []prLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type prResponse struct {
	ID              int64  `json:"id"`
	PRNo            string `json:"pr_no"`
	Status          string `json:"status"`
	Date            string `json:"date"`
	RequestedBy     int64  `json:"requested_by"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

func toPRResponse(pr PurchaseRequisition) prResponse {
	return prResponse{
		ID:              pr.ID,
		PRNo:            pr.PRNo,
		Status:          string(pr.Status),
		Date:            pr.Date.Format(time.DateOnly),
		RequestedBy:     pr.RequestedBy,
		RejectionReason: pr.RejectionReason,
	}
}

func parseDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	parsed, _ := time.Parse(time.DateOnly, value)
	return parsed
}

func parsePrice(value string) (decimal.Decimal, bool) {
	if value == "" {
		return decimal.Zero, true
	}
	parsed, err := decimal.NewFromString(value)
	return parsed, err == nil
}

func (h *Handler) handleCreatePR(w http.ResponseWriter, r *http.Request) {
	var req createPRRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreatePRInput{Date: parseDate(req.Date), RequestedBy: req.RequestedBy}
	for _, line := range req.Lines {
		price, ok := parsePrice(line.UnitPrice)
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_price must be a decimal number")
			return
		}
		input.Lines = append(input.Lines, PRLineInput{ItemID: line.ItemID, Quantity: line.Quantity, UnitPrice: price})
	}
	pr, err := h.service.CreatePurchaseRequisition(r.Context(), input)
	if err != nil {
		h.logger.Warn("create pr", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPRResponse(pr))
}

func (h *Handler) handleGetPR(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	pr, lines, err := h.service.GetPurchaseRequisition(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	type lineResponse struct {
		ID         int64  `json:"id"`
		ItemID     int64  `json:"item_id"`
		Quantity   int64  `json:"quantity"`
		UnitPrice  string `json:"unit_price"`
		TotalPrice string `json:"total_price"`
	}
	out := struct {
		prResponse
		Lines []lineResponse `json:"lines"`
	}{prResponse: toPRResponse(pr)}
	for _, line := range lines {
		out.Lines = append(out.Lines, lineResponse{
			ID:         line.ID,
			ItemID:     line.ItemID,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice.StringFixed(2),
			TotalPrice: line.TotalPrice.StringFixed(2),
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

type approvePRRequest struct {
	ActorID     int64 `json:"actor_id" validate:"required"`
	Adjustments []struct {
		LineID    int64  `json:"line_id" validate:"required"`
		Quantity  int64  `json:"quantity" validate:"required,gt=0"`
		UnitPrice string `json:"unit_price" validate:"required"`
	} `json:"adjustments" validate:"omitempty,dive"`
}

func (h *Handler) handleApprovePR(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req approvePRRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var adjustments []PRLineAdjustment
	for _, adj := range req.Adjustments {
		price, ok := parsePrice(adj.UnitPrice)
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_price must be a decimal number")
			return
		}
		adjustments = append(adjustments, PRLineAdjustment{LineID: adj.LineID, Quantity: adj.Quantity, UnitPrice: price})
	}
	pr, err := h.service.ApprovePurchaseRequisition(r.Context(), id, req.ActorID, adjustments)
	if err != nil {
		h.logger.Warn("approve pr", slog.Int64("pr_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPRResponse(pr))
}

type rejectPRRequest struct {
	ActorID int64  `json:"actor_id" validate:"required"`
	Reason  string `json:"reason" validate:"required"`
}

func (h *Handler) handleRejectPR(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req rejectPRRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	pr, err := h.service.RejectPurchaseRequisition(r.Context(), id, req.ActorID, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPRResponse(pr))
}

type orderPRRequest struct {
	ActorID int64 `json:"actor_id" validate:"required"`
}

func (h *Handler) handleOrderPR(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req orderPRRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	pr, err := h.service.OrderPurchaseRequisition(r.Context(), id, req.ActorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPRResponse(pr))
}

type grnLineRequest struct {
	ItemID    int64  `json:"item_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	UnitPrice string `json:"unit_price" validate:"required"`
}

type createGRNRequest struct {
	PRID       int64            `json:"pr_id"`
	SupplierID int64            `json:"supplier_id" validate:"required"`
	InvoiceNo  string           `json:"invoice_no"`
	Date       string           `json:"date" validate:"omitempty,datetime=2006-01-02"`
	ReceivedBy int64            `json:"received_by" validate:"required"`
	Lines      []grnLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreateGRN(w http.ResponseWriter, r *http.Request) {
	var req createGRNRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key != "" {
		if _, err := uuid.Parse(key); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "Idempotency-Key must be a UUID")
			return
		}
	}
	input := CreateGRNInput{
		PRID:           req.PRID,
		SupplierID:     req.SupplierID,
		InvoiceNo:      req.InvoiceNo,
		Date:           parseDate(req.Date),
		ReceivedBy:     req.ReceivedBy,
		IdempotencyKey: key,
	}
	for _, line := range req.Lines {
		price, ok := parsePrice(line.UnitPrice)
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_price must be a decimal number")
			return
		}
		input.Lines = append(input.Lines, GRNLineInput{ItemID: line.ItemID, Quantity: line.Quantity, UnitPrice: price})
	}
	grn, err := h.service.CreateGoodsReceiving(r.Context(), input)
	if err != nil {
		h.logger.Warn("create grn", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":     grn.ID,
		"grn_no": grn.GRNNo,
		"pr_id":  grn.PRID,
	})
}

func (h *Handler) handleGetGRN(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	grn, lines, err := h.service.GetGoodsReceiving(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	type lineResponse struct {
		ItemID     int64  `json:"item_id"`
		Quantity   int64  `json:"quantity"`
		UnitPrice  string `json:"unit_price"`
		TotalPrice string `json:"total_price"`
	}
	out := struct {
		ID         int64          `json:"id"`
		GRNNo      string         `json:"grn_no"`
		PRID       int64          `json:"pr_id,omitempty"`
		SupplierID int64          `json:"supplier_id"`
		InvoiceNo  string         `json:"invoice_no,omitempty"`
		Date       string         `json:"date"`
		Lines      []lineResponse `json:"lines"`
	}{ID: grn.ID, GRNNo: grn.GRNNo, PRID: grn.PRID, SupplierID: grn.SupplierID, InvoiceNo: grn.InvoiceNo, Date: grn.Date.Format(time.DateOnly)}
	for _, line := range lines {
		out.Lines = append(out.Lines, lineResponse{
			ItemID:     line.ItemID,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice.StringFixed(2),
			TotalPrice: line.TotalPrice.StringFixed(2),
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

type createSupplierRequest struct {
	Name          string `json:"name" validate:"required,max=150"`
	ContactPerson string `json:"contact_person"`
	Phone         string `json:"phone"`
	Email         string `json:"email" validate:"omitempty,email"`
	Address       string `json:"address"`
}

func (h *Handler) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req createSupplierRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sup, err := h.service.CreateSupplier(r.Context(), Supplier{
		Name:          req.Name,
		ContactPerson: req.ContactPerson,
		Phone:         req.Phone,
		Email:         req.Email,
		Address:       req.Address,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": sup.ID, "name": sup.Name})
}
