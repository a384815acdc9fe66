package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/core/service"
)

const lifecycleServiceName = "marketplace.v1.Lifecycle"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries messages as JSON under the "json" content subtype, so
// clients call with grpc.CallContentSubtype(JSONCodecName).
type jsonCodec struct{}

const JSONCodecName = "json"

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

type CreateTransactionRequest struct {
	RequestID string `json:"request_id"`
	BuyerID   string `json:"buyer_id"`
	ProductID string `json:"product_id"`
	AddressID string `json:"address_id"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes"`
}

type SubmitPaymentEvidenceRequest struct {
	TransactionID string `json:"transaction_id"`
	ReceiptProof  string `json:"receipt_proof"`
	PaymentMethod string `json:"payment_method"`
}

type ConfirmReconciliationRequest struct {
	InvoiceID     string `json:"invoice_id"`
	MatchedAmount int64  `json:"matched_amount"`
}

type AttachShipmentRequest struct {
	TransactionID  string `json:"transaction_id"`
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

type TransactionRequest struct {
	TransactionID string `json:"transaction_id"`
}

// LifecycleServer is the gRPC surface of the purchase lifecycle.
type LifecycleServer interface {
	CreateTransaction(context.Context, *CreateTransactionRequest) (*TransactionReply, error)
	SubmitPaymentEvidence(context.Context, *SubmitPaymentEvidenceRequest) (*TransactionReply, error)
	ConfirmReconciliation(context.Context, *ConfirmReconciliationRequest) (*ReconciliationReply, error)
	AttachShipment(context.Context, *AttachShipmentRequest) (*TransactionReply, error)
	ConfirmReceipt(context.Context, *TransactionRequest) (*TransactionReply, error)
	CancelTransaction(context.Context, *TransactionRequest) (*TransactionReply, error)
	GetTransaction(context.Context, *TransactionRequest) (*TransactionReply, error)
}

var LifecycleServiceDesc = grpc.ServiceDesc{
	ServiceName: lifecycleServiceName,
	HandlerType: (*LifecycleServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateTransaction", LifecycleServer.CreateTransaction),
		unary("SubmitPaymentEvidence", LifecycleServer.SubmitPaymentEvidence),
		unary("ConfirmReconciliation", LifecycleServer.ConfirmReconciliation),
		unary("AttachShipment", LifecycleServer.AttachShipment),
		unary("ConfirmReceipt", LifecycleServer.ConfirmReceipt),
		unary("CancelTransaction", LifecycleServer.CancelTransaction),
		unary("GetTransaction", LifecycleServer.GetTransaction),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "marketplace/v1/lifecycle",
}

func RegisterLifecycleServer(s grpc.ServiceRegistrar, srv LifecycleServer) {
	s.RegisterService(&LifecycleServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(LifecycleServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + lifecycleServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LifecycleServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(LifecycleServer), ctx, req.(*Req))
			})
		},
	}
}

type GRPCHandler struct {
	lifecycle Lifecycle
	logger    *slog.Logger
}

var _ LifecycleServer = (*GRPCHandler)(nil)

func NewGRPCHandler(lifecycle Lifecycle, logger *slog.Logger) *GRPCHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCHandler{lifecycle: lifecycle, logger: logger}
}

func (h *GRPCHandler) CreateTransaction(ctx context.Context, req *CreateTransactionRequest) (*TransactionReply, error) {
	buyerID, err := parseID(req.BuyerID)
	if err != nil {
		return nil, h.grpcError(err)
	}
	productID, err := parseID(req.ProductID)
	if err != nil {
		return nil, h.grpcError(err)
	}
	addressID, err := parseID(req.AddressID)
	if err != nil {
		return nil, h.grpcError(err)
	}

	view, err := h.lifecycle.CreateTransaction(ctx, service.PurchaseRequest{
		RequestID: req.RequestID,
		BuyerID:   buyerID,
		ProductID: productID,
		AddressID: addressID,
		Quantity:  req.Quantity,
		Notes:     req.Notes,
	})
	if err != nil {
		return nil, h.grpcError(err)
	}
	return toTransactionReply(view), nil
}

func (h *GRPCHandler) SubmitPaymentEvidence(ctx context.Context, req *SubmitPaymentEvidenceRequest) (*TransactionReply, error) {
	id, err := parseID(req.TransactionID)
	if err != nil {
		return nil, h.grpcError(err)
	}

	view, err := h.lifecycle.SubmitPaymentEvidence(ctx, id, req.ReceiptProof, req.PaymentMethod)
	if err != nil {
		return nil, h.grpcError(err)
	}
	return toTransactionReply(view), nil
}

func (h *GRPCHandler) ConfirmReconciliation(ctx context.Context, req *ConfirmReconciliationRequest) (*ReconciliationReply, error) {
	id, err := parseID(req.InvoiceID)
	if err != nil {
		return nil, h.grpcError(err)
	}

	outcome, err := h.lifecycle.ConfirmReconciliation(ctx, id, req.MatchedAmount)
	if err != nil {
		return nil, h.grpcError(err)
	}
	return toReconciliationReply(outcome), nil
}

func (h *GRPCHandler) AttachShipment(ctx context.Context, req *AttachShipmentRequest) (*TransactionReply, error) {
	id, err := parseID(req.TransactionID)
	if err != nil {
		return nil, h.grpcError(err)
	}

	view, err := h.lifecycle.AttachShipment(ctx, id, req.Carrier, req.TrackingNumber)
	if err != nil {
		return nil, h.grpcError(err)
	}
	return toTransactionReply(view), nil
}

func (h *GRPCHandler) ConfirmReceipt(ctx context.Context, req *TransactionRequest) (*TransactionReply, error) {
	return h.transactionAction(ctx, req, h.lifecycle.ConfirmReceipt)
}

func (h *GRPCHandler) CancelTransaction(ctx context.Context, req *TransactionRequest) (*TransactionReply, error) {
	return h.transactionAction(ctx, req, h.lifecycle.CancelTransaction)
}

func (h *GRPCHandler) GetTransaction(ctx context.Context, req *TransactionRequest) (*TransactionReply, error) {
	return h.transactionAction(ctx, req, h.lifecycle.GetTransaction)
}

func (h *GRPCHandler) transactionAction(ctx context.Context, req *TransactionRequest, action func(context.Context, uuid.UUID) (*service.TransactionView, error)) (*TransactionReply, error) {
	id, err := parseID(req.TransactionID)
	if err != nil {
		return nil, h.grpcError(err)
	}

	view, err := action(ctx, id)
	if err != nil {
		return nil, h.grpcError(err)
	}
	return toTransactionReply(view), nil
}

// grpcError hides the cause of internal failures from the client.
func (h *GRPCHandler) grpcError(err error) error {
	code := grpcCode(err)
	if code == codes.Internal {
		h.logger.Error("rpc failed", slog.Any("error", err))
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

func grpcCode(err error) codes.Code {
	switch domain.Kind(err) {
	case domain.ErrNotFound:
		return codes.NotFound
	case domain.ErrInvalidInput:
		return codes.InvalidArgument
	case domain.ErrInsufficientQuantity:
		return codes.ResourceExhausted
	case domain.ErrUnavailable, domain.ErrInvalidTransition, domain.ErrAlreadyAdvanced, domain.ErrPreconditionFailed:
		return codes.FailedPrecondition
	case domain.ErrConflict:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

// LoggingInterceptor logs every unary call with its outcome code.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		level := slog.LevelInfo
		if code == codes.Internal || code == codes.Unknown {
			level = slog.LevelError
		}
		logger.LogAttrs(ctx, level, "grpc call",
			slog.String("method", info.FullMethod),
			slog.String("code", code.String()),
			slog.Duration("duration", time.Since(start)))
		return resp, err
	}
}
