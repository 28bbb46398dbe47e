package transfers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/comptoir-erp/comptoir/internal/platform/httpx"
	"github.com/comptoir-erp/comptoir/internal/shared"
)

// Handler wires HTTP endpoints for the transfers module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs transfers handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Put("/{id}", h.update)
	r.Post("/{id}/dispatch", h.dispatch)
	r.Post("/{id}/receive", h.receive)
	r.Post("/{id}/cancel", h.cancel)
}

type createForm struct {
	SourceStoreID int64       `json:"source_store_id" validate:"required,gt=0"`
	DestStoreID   int64       `json:"dest_store_id" validate:"required,gt=0"`
	TransferDate  string      `json:"transfer_date" validate:"omitempty,datetime=2006-01-02"`
	Note          string      `json:"note" validate:"omitempty,max=500"`
	Lines         []LineInput `json:"lines" validate:"required,min=1,dive"`
}

type updateForm struct {
	Note  string      `json:"note" validate:"omitempty,max=500"`
	Lines []LineInput `json:"lines" validate:"required,min=1,dive"`
}

type dispatchForm struct {
	SentQuantities map[int64]int64 `json:"sent_quantities"`
}

type receiveForm struct {
	ReceivedQuantities map[int64]int64 `json:"received_quantities"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{}
	if v := r.URL.Query().Get("status"); v != "" {
		status := Status(v)
		if !status.IsValid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid status")
			return
		}
		filter.Status = status
	}
	if v := r.URL.Query().Get("store_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid store_id")
			return
		}
		filter.StoreID = &id
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	pagination := shared.NewPagination(page, limit, 0)
	filter.Limit = pagination.PerPage
	filter.Offset = pagination.Offset()

	result, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list transfers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfers": result, "total": total})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	transfer, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var form createForm
	if !h.decode(w, r, &form) {
		return
	}
	var transferDate time.Time
	if form.TransferDate != "" {
		transferDate, _ = time.Parse("2006-01-02", form.TransferDate)
	}
	transfer, err := h.service.Create(r.Context(), CreateInput{
		SourceStoreID: form.SourceStoreID,
		DestStoreID:   form.DestStoreID,
		TransferDate:  transferDate,
		Note:          form.Note,
		Lines:         form.Lines,
		ActorID:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, transfer)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var form updateForm
	if !h.decode(w, r, &form) {
		return
	}
	transfer, err := h.service.Update(r.Context(), id, UpdateInput{
		Note:    form.Note,
		Lines:   form.Lines,
		ActorID: shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	form := dispatchForm{}
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &form); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
			return
		}
	}
	transfer, err := h.service.Dispatch(r.Context(), id, DispatchInput{
		SentQuantities: form.SentQuantities,
		ActorID:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	form := receiveForm{}
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &form); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
			return
		}
	}
	transfer, err := h.service.Receive(r.Context(), id, ReceiveInput{
		ReceivedQuantities: form.ReceivedQuantities,
		ActorID:            shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	transfer, err := h.service.Cancel(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transfer id")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, form any) bool {
	if err := httpx.DecodeJSON(r, form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return false
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	var locked *LockedError
	var shortfall *StockShortfallError
	switch {
	case errors.Is(err, ErrTransferNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &locked):
		httpx.ProblemWith(w, http.StatusConflict, "Transfer Locked", locked.Error(), map[string]any{
			"status": locked.Status,
		})
	case errors.Is(err, ErrAlreadyCancelled):
		httpx.Problem(w, http.StatusConflict, "Already Cancelled", err.Error())
	case errors.As(err, &shortfall):
		httpx.ProblemWith(w, http.StatusUnprocessableEntity, "Insufficient Stock", shortfall.Error(), map[string]any{
			"product_id": shortfall.ProductID,
			"store_id":   shortfall.StoreID,
			"current":    shortfall.Current,
			"required":   shortfall.Required,
		})
	case errors.Is(err, ErrSameStore), errors.Is(err, ErrStoreRequired), errors.Is(err, ErrNoLines):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("transfers handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
