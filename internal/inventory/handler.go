package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/comptoir-erp/comptoir/internal/platform/httpx"
	"github.com/comptoir-erp/comptoir/internal/shared"
)

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger            *slog.Logger
	service           *Service
	validator         *validator.Validate
	lowStockThreshold int64
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, lowStockThreshold int64) *Handler {
	return &Handler{
		logger:            logger,
		service:           service,
		validator:         validator.New(),
		lowStockThreshold: lowStockThreshold,
	}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stocks", h.listStocks)
	r.Get("/stocks/low", h.listLowStock)
	r.Get("/movements", h.listMovements)
	r.Post("/adjustments", h.postAdjustment)
}

type adjustmentForm struct {
	StoreID   int64  `json:"store_id" validate:"required,gt=0"`
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required"`
	Note      string `json:"note" validate:"omitempty,max=500"`
	RefID     string `json:"ref_id" validate:"omitempty,uuid4"`
}

func (h *Handler) listStocks(w http.ResponseWriter, r *http.Request) {
	filter := StockFilter{}
	if v := r.URL.Query().Get("store_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid store_id")
			return
		}
		filter.StoreID = &id
	}
	if v := r.URL.Query().Get("product_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product_id")
			return
		}
		filter.ProductID = &id
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	pagination := shared.NewPagination(page, limit, 0)
	filter.Limit = pagination.PerPage
	filter.Offset = pagination.Offset()

	levels, err := h.service.GetStockLevels(r.Context(), filter)
	if err != nil {
		h.logger.Error("list stocks", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stocks": levels})
}

func (h *Handler) listLowStock(w http.ResponseWriter, r *http.Request) {
	threshold := h.lowStockThreshold
	if v := r.URL.Query().Get("threshold"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid threshold")
			return
		}
		threshold = parsed
	}
	levels, err := h.service.LowStock(r.Context(), threshold)
	if err != nil {
		h.logger.Error("list low stock", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stocks": levels, "threshold": threshold})
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	filter := MovementFilter{Reference: r.URL.Query().Get("reference")}
	if v := r.URL.Query().Get("store_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid store_id")
			return
		}
		filter.StoreID = &id
	}
	if v := r.URL.Query().Get("product_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product_id")
			return
		}
		filter.ProductID = &id
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	pagination := shared.NewPagination(page, limit, 0)
	filter.Limit = pagination.PerPage
	filter.Offset = pagination.Offset()

	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) postAdjustment(w http.ResponseWriter, r *http.Request) {
	var form adjustmentForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actorID := shared.ActorFromContext(r.Context())
	movement, err := h.service.PostAdjustment(r.Context(), AdjustmentInput{
		StoreID:   form.StoreID,
		ProductID: form.ProductID,
		Quantity:  form.Quantity,
		Note:      form.Note,
		ActorID:   actorID,
		RefID:     form.RefID,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrNegativeStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrStockNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("inventory handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
