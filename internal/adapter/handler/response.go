package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/core/service"
)

type ProductResponse struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Price       int64      `json:"price"`
	SellerID    uuid.UUID  `json:"seller_id"`
	CountryID   uuid.UUID  `json:"country_id"`
	Stock       int        `json:"stock"`
	Status      string     `json:"status"`
	FromDate    string     `json:"from_date"`
	ToDate      string     `json:"to_date"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

func toProductResponse(p *domain.Product) ProductResponse {
	return ProductResponse{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Price:       p.Price,
		SellerID:    p.SellerID,
		CountryID:   p.CountryID,
		Stock:       p.Stock,
		Status:      string(p.Status),
		FromDate:    p.FromDate.Format(time.DateOnly),
		ToDate:      p.ToDate.Format(time.DateOnly),
		Version:     p.Version,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		DeletedAt:   p.DeletedAt,
	}
}

func toProductResponseList(ps []*domain.Product) []ProductResponse {
	out := make([]ProductResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, toProductResponse(p))
	}
	return out
}

type AvailabilityResponse struct {
	ProductID   uuid.UUID `json:"product_id"`
	Purchasable bool      `json:"purchasable"`
	Quantity    int       `json:"quantity"`
}

type TransactionResponse struct {
	ID             uuid.UUID  `json:"id"`
	ProductID      uuid.UUID  `json:"product_id"`
	BuyerID        uuid.UUID  `json:"buyer_id"`
	SellerID       uuid.UUID  `json:"seller_id"`
	BuyerAddressID uuid.UUID  `json:"buyer_address_id"`
	Quantity       int        `json:"quantity"`
	Notes          string     `json:"notes,omitempty"`
	TotalPrice     int64      `json:"total_price"`
	Status         string     `json:"status"`
	Rejections     int        `json:"rejections"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toTransactionResponse(tx *domain.Transaction) *TransactionResponse {
	if tx == nil {
		return nil
	}
	return &TransactionResponse{
		ID:             tx.ID,
		ProductID:      tx.ProductID,
		BuyerID:        tx.BuyerID,
		SellerID:       tx.SellerID,
		BuyerAddressID: tx.BuyerAddressID,
		Quantity:       tx.Quantity,
		Notes:          tx.Notes,
		TotalPrice:     tx.TotalPrice,
		Status:         string(tx.Status),
		Rejections:     tx.Rejections,
		ExpiresAt:      tx.ExpiresAt,
		PaidAt:         tx.PaidAt,
		FinishedAt:     tx.FinishedAt,
		CreatedAt:      tx.CreatedAt,
		UpdatedAt:      tx.UpdatedAt,
	}
}

func toTransactionResponseList(txs []*domain.Transaction) []*TransactionResponse {
	out := make([]*TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx))
	}
	return out
}

type InvoiceResponse struct {
	ID            uuid.UUID  `json:"id"`
	TransactionID uuid.UUID  `json:"transaction_id"`
	Code          string     `json:"code"`
	CodedPrice    int64      `json:"coded_price"`
	Status        string     `json:"status"`
	ReceiptProof  string     `json:"receipt_proof,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toInvoiceResponse(inv *domain.Invoice) *InvoiceResponse {
	if inv == nil {
		return nil
	}
	return &InvoiceResponse{
		ID:            inv.ID,
		TransactionID: inv.TransactionID,
		Code:          inv.Code,
		CodedPrice:    inv.CodedPrice,
		Status:        string(inv.Status),
		ReceiptProof:  inv.ReceiptProof,
		PaymentMethod: inv.PaymentMethod,
		PaidAt:        inv.PaidAt,
		CreatedAt:     inv.CreatedAt,
	}
}

type ShipmentResponse struct {
	Carrier        string    `json:"carrier"`
	TrackingNumber string    `json:"tracking_number"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toShipmentResponse(s *domain.Shipment) *ShipmentResponse {
	if s == nil {
		return nil
	}
	return &ShipmentResponse{
		Carrier:        s.Carrier,
		TrackingNumber: s.TrackingNumber,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

// TransactionReply is the transaction view shared by HTTP and gRPC.
type TransactionReply struct {
	Transaction *TransactionResponse `json:"transaction"`
	Invoice     *InvoiceResponse     `json:"invoice,omitempty"`
	Shipment    *ShipmentResponse    `json:"shipment,omitempty"`
}

func toTransactionReply(v *service.TransactionView) *TransactionReply {
	return &TransactionReply{
		Transaction: toTransactionResponse(v.Transaction),
		Invoice:     toInvoiceResponse(v.Invoice),
		Shipment:    toShipmentResponse(v.Shipment),
	}
}

type ReconciliationReply struct {
	Result      string               `json:"result"`
	Invoice     *InvoiceResponse     `json:"invoice"`
	Transaction *TransactionResponse `json:"transaction"`
}

func toReconciliationReply(o *service.ReconcileOutcome) *ReconciliationReply {
	return &ReconciliationReply{
		Result:      string(o.Result),
		Invoice:     toInvoiceResponse(o.Invoice),
		Transaction: toTransactionResponse(o.Transaction),
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
