package handler

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

const serviceName = "storefront.v1.Storefront"

type Empty struct{}

type CategoriesReply struct {
	Categories []string `json:"categories"`
}

type ListItemsRequest struct {
	Category string `json:"category,omitempty"`
	Query    string `json:"query,omitempty"`
	LowStock bool   `json:"low_stock,omitempty"`
}

type ItemsReply struct {
	Items []ItemView `json:"items"`
}

type ItemRequestByID struct {
	ItemID int64 `json:"item_id"`
}

type CartRequest struct {
	SessionID string `json:"session_id"`
	ItemID    int64  `json:"item_id,omitempty"`
}

type CheckoutCall struct {
	SessionID string `json:"session_id"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	RequestID string `json:"request_id,omitempty"`
}

type OrderRequest struct {
	OrderID int64 `json:"order_id"`
}

type ListOrdersRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

type OrdersReply struct {
	Orders []OrderView `json:"orders"`
}

// StorefrontServer is the gRPC surface over the shop.
type StorefrontServer interface {
	ListCategories(context.Context, *Empty) (*CategoriesReply, error)
	ListItems(context.Context, *ListItemsRequest) (*ItemsReply, error)
	GetItem(context.Context, *ItemRequestByID) (*ItemView, error)
	AddToCart(context.Context, *CartRequest) (*CartView, error)
	RemoveFromCart(context.Context, *CartRequest) (*CartView, error)
	ViewCart(context.Context, *CartRequest) (*CartView, error)
	ClearCart(context.Context, *CartRequest) (*Empty, error)
	Checkout(context.Context, *CheckoutCall) (*OrderView, error)
	GetOrder(context.Context, *OrderRequest) (*OrderView, error)
	ListOrders(context.Context, *ListOrdersRequest) (*OrdersReply, error)
	ConfirmOrder(context.Context, *OrderRequest) (*OrderView, error)
	CancelOrder(context.Context, *OrderRequest) (*OrderView, error)
	DeliverOrder(context.Context, *OrderRequest) (*OrderView, error)
	ReloadCatalog(context.Context, *Empty) (*LoadStatsView, error)
}

type GRPCHandler struct {
	shop *service.Shop
	log  *zap.Logger
}

var _ StorefrontServer = (*GRPCHandler)(nil)

func NewGRPCHandler(shop *service.Shop, log *zap.Logger) *GRPCHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &GRPCHandler{shop: shop, log: log}
}

// Register attaches the handler to s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&storefrontServiceDesc, h)
}

func (h *GRPCHandler) ListCategories(ctx context.Context, _ *Empty) (*CategoriesReply, error) {
	return &CategoriesReply{Categories: h.shop.ListCategories()}, nil
}

func (h *GRPCHandler) ListItems(ctx context.Context, req *ListItemsRequest) (*ItemsReply, error) {
	var items []domain.Item
	switch {
	case req.LowStock:
		items = h.shop.LowStock()
	case req.Query != "":
		items = h.shop.SearchItems(req.Query)
	default:
		items = h.shop.ListItemsByCategory(req.Category)
	}
	return &ItemsReply{Items: itemViews(items)}, nil
}

func (h *GRPCHandler) GetItem(ctx context.Context, req *ItemRequestByID) (*ItemView, error) {
	it, err := h.shop.GetItem(req.ItemID)
	if err != nil {
		return nil, h.status(err)
	}
	v := itemView(it)
	return &v, nil
}

func (h *GRPCHandler) AddToCart(ctx context.Context, req *CartRequest) (*CartView, error) {
	return h.cart(h.shop.AddToCart(req.SessionID, req.ItemID))
}

func (h *GRPCHandler) RemoveFromCart(ctx context.Context, req *CartRequest) (*CartView, error) {
	return h.cart(h.shop.RemoveFromCart(req.SessionID, req.ItemID))
}

func (h *GRPCHandler) ViewCart(ctx context.Context, req *CartRequest) (*CartView, error) {
	return h.cart(h.shop.ViewCart(req.SessionID))
}

func (h *GRPCHandler) ClearCart(ctx context.Context, req *CartRequest) (*Empty, error) {
	if err := h.shop.ClearCart(req.SessionID); err != nil {
		return nil, h.status(err)
	}
	return &Empty{}, nil
}

func (h *GRPCHandler) Checkout(ctx context.Context, req *CheckoutCall) (*OrderView, error) {
	contact := domain.Contact{Phone: req.Phone, Address: req.Address}
	return h.order(h.shop.Checkout(ctx, req.SessionID, contact, req.RequestID))
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *OrderRequest) (*OrderView, error) {
	return h.order(h.shop.GetOrder(req.OrderID))
}

func (h *GRPCHandler) ListOrders(ctx context.Context, req *ListOrdersRequest) (*OrdersReply, error) {
	return &OrdersReply{Orders: orderViews(h.shop.ListOrders(req.SessionID))}, nil
}

func (h *GRPCHandler) ConfirmOrder(ctx context.Context, req *OrderRequest) (*OrderView, error) {
	return h.order(h.shop.ConfirmOrder(ctx, req.OrderID))
}

func (h *GRPCHandler) CancelOrder(ctx context.Context, req *OrderRequest) (*OrderView, error) {
	return h.order(h.shop.CancelOrder(ctx, req.OrderID))
}

func (h *GRPCHandler) DeliverOrder(ctx context.Context, req *OrderRequest) (*OrderView, error) {
	return h.order(h.shop.DeliverOrder(ctx, req.OrderID))
}

func (h *GRPCHandler) ReloadCatalog(ctx context.Context, _ *Empty) (*LoadStatsView, error) {
	stats, err := h.shop.ReloadCatalog(ctx)
	if err != nil {
		return nil, h.status(err)
	}
	v := loadStatsView(stats)
	return &v, nil
}

func (h *GRPCHandler) cart(view domain.CartView, err error) (*CartView, error) {
	if err != nil {
		return nil, h.status(err)
	}
	v := cartView(view)
	return &v, nil
}

func (h *GRPCHandler) order(o domain.Order, err error) (*OrderView, error) {
	if err != nil {
		return nil, h.status(err)
	}
	v := orderView(o)
	return &v, nil
}

// status converts a domain error into a gRPC status. The domain code is the
// status message prefix so clients can branch on it.
func (h *GRPCHandler) status(err error) error {
	code := grpcCode(err)
	view := errorView(err)
	if code == codes.Internal || code == codes.Unavailable {
		h.log.Error("grpc call failed", zap.Error(err))
	}
	return status.Errorf(code, "%s: %s", view.Code, view.Message)
}

func unary[Req any, Resp any](name string, call func(StorefrontServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(StorefrontServer), ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
				return call(srv.(StorefrontServer), ctx, r.(*Req))
			})
		},
	}
}

var storefrontServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*StorefrontServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListCategories", StorefrontServer.ListCategories),
		unary("ListItems", StorefrontServer.ListItems),
		unary("GetItem", StorefrontServer.GetItem),
		unary("AddToCart", StorefrontServer.AddToCart),
		unary("RemoveFromCart", StorefrontServer.RemoveFromCart),
		unary("ViewCart", StorefrontServer.ViewCart),
		unary("ClearCart", StorefrontServer.ClearCart),
		unary("Checkout", StorefrontServer.Checkout),
		unary("GetOrder", StorefrontServer.GetOrder),
		unary("ListOrders", StorefrontServer.ListOrders),
		unary("ConfirmOrder", StorefrontServer.ConfirmOrder),
		unary("CancelOrder", StorefrontServer.CancelOrder),
		unary("DeliverOrder", StorefrontServer.DeliverOrder),
		unary("ReloadCatalog", StorefrontServer.ReloadCatalog),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront.v1",
}
