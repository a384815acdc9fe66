package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/core/service"
)

const idempotencyHeader = "Idempotency-Key"

// HealthCheck reports whether a dependency is reachable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type HTTPHandler struct {
	lifecycle Lifecycle
	checks    []HealthCheck
	logger    *slog.Logger
}

func NewHTTPHandler(lifecycle Lifecycle, logger *slog.Logger, checks ...HealthCheck) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{lifecycle: lifecycle, checks: checks, logger: logger}
}

// NewRouter mounts the handler under /api/v1 with the standard middleware.
func NewRouter(h *HTTPHandler) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", h.HealthCheck)
	router.Route("/api/v1", h.Routes)

	return router
}

func (h *HTTPHandler) Routes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Post("/", h.createProduct)
		r.Get("/", h.listProducts)
		r.Get("/{id}", h.getProduct)
		r.Patch("/{id}", h.updateProduct)
		r.Delete("/{id}", h.deleteProduct)
		r.Get("/{id}/availability", h.availability)
	})

	r.Route("/transactions", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Post("/", h.createTransaction)
		r.Get("/", h.listTransactions)
		r.Get("/{id}", h.getTransaction)
		r.Post("/{id}/payment", h.submitPayment)
		r.Post("/{id}/shipment", h.attachShipment)
		r.Patch("/{id}/shipment", h.correctShipment)
		r.Post("/{id}/receipt", h.confirmReceipt)
		r.Post("/{id}/cancel", h.cancelTransaction)
	})

	r.Route("/invoices", func(r chi.Router) {
		r.Get("/{id}", h.getInvoice)
		r.Post("/{id}/reconciliation", h.confirmReconciliation)
	})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	result := map[string]string{"status": "ok"}

	for _, c := range h.checks {
		if err := c.Check(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			result["status"] = "degraded"
			result[c.Name] = err.Error()
			continue
		}
		result[c.Name] = "ok"
	}

	writeJSON(w, status, result)
}

type createProductRequest struct {
	SellerID    uuid.UUID `json:"seller_id"`
	CountryID   uuid.UUID `json:"country_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
	Stock       int       `json:"stock"`
	Status      string    `json:"status"`
	FromDate    string    `json:"from_date"`
	ToDate      string    `json:"to_date"`
}

func (h *HTTPHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if !h.decode(w, r, &req) {
		return
	}

	from, err := parseDate("from_date", req.FromDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := parseDate("to_date", req.ToDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	p, err := h.lifecycle.CreateProduct(r.Context(), service.CreateProductParams{
		SellerID:    req.SellerID,
		CountryID:   req.CountryID,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		Status:      domain.ProductStatus(req.Status),
		FromDate:    from,
		ToDate:      to,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

func (h *HTTPHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ProductFilter{
		Query:          q.Get("q"),
		Status:         domain.ProductStatus(q.Get("status")),
		IncludeDeleted: q.Get("include_deleted") == "true",
	}

	var err error
	if filter.SellerID, err = queryID(r, "seller_id"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.CountryID, err = queryID(r, "country_id"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Limit, filter.Offset, err = queryPage(r); err != nil {
		h.writeError(w, r, err)
		return
	}

	ps, err := h.lifecycle.ListProducts(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProductResponseList(ps))
}

func (h *HTTPHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	p, err := h.lifecycle.GetProduct(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProductResponse(p))
}

type updateProductRequest struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Price       *int64     `json:"price,omitempty"`
	CountryID   *uuid.UUID `json:"country_id,omitempty"`
	Stock       *int       `json:"stock,omitempty"`
	Status      *string    `json:"status,omitempty"`
	FromDate    *string    `json:"from_date,omitempty"`
	ToDate      *string    `json:"to_date,omitempty"`
}

func (h *HTTPHandler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req updateProductRequest
	if !h.decode(w, r, &req) {
		return
	}

	patch := service.UpdateProductParams{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		CountryID:   req.CountryID,
		Stock:       req.Stock,
	}
	if req.Status != nil {
		status := domain.ProductStatus(*req.Status)
		patch.Status = &status
	}
	if req.FromDate != nil {
		from, err := parseDate("from_date", *req.FromDate)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		patch.FromDate = &from
	}
	if req.ToDate != nil {
		to, err := parseDate("to_date", *req.ToDate)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		patch.ToDate = &to
	}

	p, err := h.lifecycle.UpdateProduct(r.Context(), id, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func (h *HTTPHandler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.lifecycle.DeleteProduct(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) availability(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	a, err := h.lifecycle.Availability(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityResponse{
		ProductID:   a.ProductID,
		Purchasable: a.Purchasable,
		Quantity:    a.Quantity,
	})
}

type createTransactionRequest struct {
	RequestID string    `json:"request_id"`
	BuyerID   uuid.UUID `json:"buyer_id"`
	ProductID uuid.UUID `json:"product_id"`
	AddressID uuid.UUID `json:"address_id"`
	Quantity  int       `json:"quantity"`
	Notes     string    `json:"notes"`
}

func (h *HTTPHandler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get(idempotencyHeader)
	}

	view, err := h.lifecycle.CreateTransaction(r.Context(), service.PurchaseRequest{
		RequestID: req.RequestID,
		BuyerID:   req.BuyerID,
		ProductID: req.ProductID,
		AddressID: req.AddressID,
		Quantity:  req.Quantity,
		Notes:     req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionReply(view))
}

func (h *HTTPHandler) listTransactions(w http.ResponseWriter, r *http.Request) {
	filter := domain.TransactionFilter{}

	var err error
	if s := r.URL.Query().Get("status"); s != "" {
		if filter.Status, err = domain.ParseStatus(s); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if filter.BuyerID, err = queryID(r, "buyer_id"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.SellerID, err = queryID(r, "seller_id"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.ProductID, err = queryID(r, "product_id"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Limit, filter.Offset, err = queryPage(r); err != nil {
		h.writeError(w, r, err)
		return
	}

	txs, err := h.lifecycle.ListTransactions(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionResponseList(txs))
}

func (h *HTTPHandler) getTransaction(w http.ResponseWriter, r *http.Request) {
	h.transactionAction(w, r, h.lifecycle.GetTransaction)
}

func (h *HTTPHandler) confirmReceipt(w http.ResponseWriter, r *http.Request) {
	h.transactionAction(w, r, h.lifecycle.ConfirmReceipt)
}

func (h *HTTPHandler) cancelTransaction(w http.ResponseWriter, r *http.Request) {
	h.transactionAction(w, r, h.lifecycle.CancelTransaction)
}

func (h *HTTPHandler) transactionAction(w http.ResponseWriter, r *http.Request, action func(context.Context, uuid.UUID) (*service.TransactionView, error)) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	view, err := action(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionReply(view))
}

type paymentRequest struct {
	ReceiptProof  string `json:"receipt_proof"`
	PaymentMethod string `json:"payment_method"`
}

func (h *HTTPHandler) submitPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.lifecycle.SubmitPaymentEvidence(r.Context(), id, req.ReceiptProof, req.PaymentMethod)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionReply(view))
}

type shipmentRequest struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

func (h *HTTPHandler) attachShipment(w http.ResponseWriter, r *http.Request) {
	h.shipmentAction(w, r, h.lifecycle.AttachShipment)
}

func (h *HTTPHandler) correctShipment(w http.ResponseWriter, r *http.Request) {
	h.shipmentAction(w, r, h.lifecycle.CorrectShipment)
}

func (h *HTTPHandler) shipmentAction(w http.ResponseWriter, r *http.Request, action func(context.Context, uuid.UUID, string, string) (*service.TransactionView, error)) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req shipmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := action(r.Context(), id, req.Carrier, req.TrackingNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionReply(view))
}

func (h *HTTPHandler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	inv, err := h.lifecycle.GetInvoice(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

type reconciliationRequest struct {
	MatchedAmount int64 `json:"matched_amount"`
}

func (h *HTTPHandler) confirmReconciliation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req reconciliationRequest
	if !h.decode(w, r, &req) {
		return
	}

	outcome, err := h.lifecycle.ConfirmReconciliation(r.Context(), id, req.MatchedAmount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toReconciliationReply(outcome))
}

func (h *HTTPHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid request body: %v", domain.ErrInvalidInput, err))
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err))
		message = "internal error"
	}

	writeJSON(w, status, ErrorResponse{Error: kindName(err), Message: message})
}

func httpStatus(err error) int {
	switch domain.Kind(err) {
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrInvalidInput:
		return http.StatusBadRequest
	case domain.ErrUnavailable, domain.ErrInsufficientQuantity, domain.ErrConflict:
		return http.StatusConflict
	case domain.ErrInvalidTransition, domain.ErrAlreadyAdvanced, domain.ErrPreconditionFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", domain.ErrInvalidInput, field)
	}
	return t, nil
}

func queryID(r *http.Request, key string) (uuid.UUID, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s is not a valid id", domain.ErrInvalidInput, key)
	}
	return id, nil
}

func queryPage(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if limit, err = queryNonNegative(q.Get("limit"), "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = queryNonNegative(q.Get("offset"), "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func queryNonNegative(s, key string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrInvalidInput, key)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
