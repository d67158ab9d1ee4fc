package handler

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls a remote storefront service over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	out := new(Resp)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, req, out, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListCategories(ctx context.Context) (*CategoriesReply, error) {
	return invoke[CategoriesReply](ctx, c, "ListCategories", &Empty{})
}

func (c *Client) ListItems(ctx context.Context, req *ListItemsRequest) (*ItemsReply, error) {
	return invoke[ItemsReply](ctx, c, "ListItems", req)
}

func (c *Client) GetItem(ctx context.Context, itemID int64) (*ItemView, error) {
	return invoke[ItemView](ctx, c, "GetItem", &ItemRequestByID{ItemID: itemID})
}

func (c *Client) AddToCart(ctx context.Context, sessionID string, itemID int64) (*CartView, error) {
	return invoke[CartView](ctx, c, "AddToCart", &CartRequest{SessionID: sessionID, ItemID: itemID})
}

func (c *Client) RemoveFromCart(ctx context.Context, sessionID string, itemID int64) (*CartView, error) {
	return invoke[CartView](ctx, c, "RemoveFromCart", &CartRequest{SessionID: sessionID, ItemID: itemID})
}

func (c *Client) ViewCart(ctx context.Context, sessionID string) (*CartView, error) {
	return invoke[CartView](ctx, c, "ViewCart", &CartRequest{SessionID: sessionID})
}

func (c *Client) ClearCart(ctx context.Context, sessionID string) error {
	_, err := invoke[Empty](ctx, c, "ClearCart", &CartRequest{SessionID: sessionID})
	return err
}

func (c *Client) Checkout(ctx context.Context, req *CheckoutCall) (*OrderView, error) {
	return invoke[OrderView](ctx, c, "Checkout", req)
}

func (c *Client) GetOrder(ctx context.Context, orderID int64) (*OrderView, error) {
	return invoke[OrderView](ctx, c, "GetOrder", &OrderRequest{OrderID: orderID})
}

func (c *Client) ListOrders(ctx context.Context, sessionID string) (*OrdersReply, error) {
	return invoke[OrdersReply](ctx, c, "ListOrders", &ListOrdersRequest{SessionID: sessionID})
}

func (c *Client) ConfirmOrder(ctx context.Context, orderID int64) (*OrderView, error) {
	return invoke[OrderView](ctx, c, "ConfirmOrder", &OrderRequest{OrderID: orderID})
}

func (c *Client) CancelOrder(ctx context.Context, orderID int64) (*OrderView, error) {
	return invoke[OrderView](ctx, c, "CancelOrder", &OrderRequest{OrderID: orderID})
}

func (c *Client) DeliverOrder(ctx context.Context, orderID int64) (*OrderView, error) {
	return invoke[OrderView](ctx, c, "DeliverOrder", &OrderRequest{OrderID: orderID})
}

func (c *Client) ReloadCatalog(ctx context.Context) (*LoadStatsView, error) {
	return invoke[LoadStatsView](ctx, c, "ReloadCatalog", &Empty{})
}
