package requisition

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/storekeep-erp/storekeep/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the requisition module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs requisition handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers requisition routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/requisitions", h.handleCreateSR)
	r.Get("/requisitions/{id}", h.handleGetSR)
	r.Post("/requisitions/{id}/check", h.handleCheckSR)
	r.Post("/requisitions/{id}/approve", h.handleApproveSR)
	r.Post("/requisitions/{id}/reject", h.handleRejectSR)
	r.Post("/issues", h.handleCreateSIV)
	r.Get("/issues/{id}", h.handleGetSIV)
}

type srLineRequest struct {
	ItemID   int64 `json:"item_id" validate:"required"`
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

type createSRRequest struct {
	Date        string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Department  string          `json:"department"`
	RequestedBy int64           `json:"requested_by" validate:"required"`
	Lines       []srLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type srResponse struct {
	ID              int64  `json:"id"`
	SRNo            string `json:"sr_no"`
	Status          string `json:"status"`
	Date            string `json:"date"`
	Department      string `json:"department,omitempty"`
	RequestedBy     int64  `json:"requested_by"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

func toSRResponse(sr StoreRequisition) srResponse {
	return srResponse{
		ID:              sr.ID,
		SRNo:            sr.SRNo,
		Status:          string(sr.Status),
		Date:            sr.Date.Format(time.DateOnly),
		Department:      sr.Department,
		RequestedBy:     sr.RequestedBy,
		RejectionReason: sr.RejectionReason,
	}
}

func parseDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	parsed, _ := time.Parse(time.DateOnly, value)
	return parsed
}

func (h *Handler) handleCreateSR(w http.ResponseWriter, r *http.Request) {
	var req createSRRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateSRInput{Date: parseDate(req.Date), Department: req.Department, RequestedBy: req.RequestedBy}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, SRLineInput{ItemID: line.ItemID, Quantity: line.Quantity})
	}
	sr, err := h.service.CreateStoreRequisition(r.Context(), input)
	if err != nil {
		h.logger.Warn("create sr", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toSRResponse(sr))
}

func (h *Handler) handleGetSR(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	sr, lines, err := h.service.GetStoreRequisition(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	type lineResponse struct {
		ID           int64  `json:"id"`
		ItemID       int64  `json:"item_id"`
		RequestedQty int64  `json:"requested_qty"`
		CheckedQty   *int64 `json:"checked_qty,omitempty"`
		ApprovedQty  *int64 `json:"approved_qty,omitempty"`
		TargetQty    int64  `json:"target_qty"`
	}
	out := struct {
		srResponse
		Lines []lineResponse `json:"lines"`
	}{srResponse: toSRResponse(sr)}
	for _, line := range lines {
		out.Lines = append(out.Lines, lineResponse{
			ID:           line.ID,
			ItemID:       line.ItemID,
			RequestedQty: line.RequestedQty,
			CheckedQty:   line.CheckedQty,
			ApprovedQty:  line.ApprovedQty,
			TargetQty:    line.TargetQty(),
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

type reviewSRRequest struct {
	ActorID int64 `json:"actor_id" validate:"required"`
	Reviews []struct {
		LineID   int64 `json:"line_id" validate:"required"`
		Quantity int64 `json:"quantity" validate:"required,gt=0"`
	} `json:"reviews" validate:"omitempty,dive"`
}

func (h *Handler) decodeReview(w http.ResponseWriter, r *http.Request) (int64, reviewSRRequest, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, reviewSRRequest{}, false
	}
	var req reviewSRRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return 0, reviewSRRequest{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return 0, reviewSRRequest{}, false
	}
	return id, req, true
}

func toReviews(req reviewSRRequest) []SRLineReview {
	var reviews []SRLineReview
	for _, rev := range req.Reviews {
		reviews = append(reviews, SRLineReview{LineID: rev.LineID, Quantity: rev.Quantity})
	}
	return reviews
}

func (h *Handler) handleCheckSR(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeReview(w, r)
	if !ok {
		return
	}
	sr, err := h.service.CheckStoreRequisition(r.Context(), id, req.ActorID, toReviews(req))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSRResponse(sr))
}

func (h *Handler) handleApproveSR(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeReview(w, r)
	if !ok {
		return
	}
	sr, err := h.service.ApproveStoreRequisition(r.Context(), id, req.ActorID, toReviews(req))
	if err != nil {
		h.logger.Warn("approve sr", slog.Int64("sr_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSRResponse(sr))
}

type rejectSRRequest struct {
	ActorID int64  `json:"actor_id" validate:"required"`
	Reason  string `json:"reason" validate:"required"`
}

func (h *Handler) handleRejectSR(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req rejectSRRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sr, err := h.service.RejectStoreRequisition(r.Context(), id, req.ActorID, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSRResponse(sr))
}

type sivLineRequest struct {
	ItemID   int64 `json:"item_id" validate:"required"`
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

type createSIVRequest struct {
	SRID     int64            `json:"sr_id" validate:"required"`
	Date     string           `json:"date" validate:"omitempty,datetime=2006-01-02"`
	IssuedBy int64            `json:"issued_by" validate:"required"`
	Lines    []sivLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreateSIV(w http.ResponseWriter, r *http.Request) {
	var req createSIVRequest
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
	input := CreateSIVInput{
		SRID:           req.SRID,
		Date:           parseDate(req.Date),
		IssuedBy:       req.IssuedBy,
		IdempotencyKey: key,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, SIVLineInput{ItemID: line.ItemID, Quantity: line.Quantity})
	}
	siv, err := h.service.CreateStoreIssue(r.Context(), input)
	if err != nil {
		h.logger.Warn("create siv", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":     siv.ID,
		"siv_no": siv.SIVNo,
		"sr_id":  siv.SRID,
	})
}

func (h *Handler) handleGetSIV(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	siv, lines, err := h.service.GetStoreIssue(r.Context(), id)
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
		ID       int64          `json:"id"`
		SIVNo    string         `json:"siv_no"`
		SRID     int64          `json:"sr_id"`
		Date     string         `json:"date"`
		IssuedBy int64          `json:"issued_by"`
		Lines    []lineResponse `json:"lines"`
	}{ID: siv.ID, SIVNo: siv.SIVNo, SRID: siv.SRID, Date: siv.Date.Format(time.DateOnly), IssuedBy: siv.IssuedBy}
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
