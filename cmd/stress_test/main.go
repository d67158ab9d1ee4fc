package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

func main() {
	app := &cli.App{
		Name:  "stress_test",
		Usage: "race many sessions for the last units of one item",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "stock", Value: 20, Usage: "initial stock (in-process mode)"},
			&cli.IntFlag{Name: "sessions", Value: 50, Usage: "concurrent buyers"},
			&cli.StringFlag{Name: "policy", Value: string(domain.DeductOnCheckout), Usage: "on_checkout or on_delivery (in-process mode)"},
			&cli.StringFlag{Name: "addr", Usage: "gRPC address of a running server; empty runs in-process"},
			&cli.Int64Flag{Name: "item", Value: 1, Usage: "item id to buy"},
		},
		Action: func(c *cli.Context) error {
			policy, err := domain.ParseDeductionPolicy(c.String("policy"))
			if err != nil {
				return err
			}
			return run(c.Context, options{
				stock:    c.Int("stock"),
				sessions: c.Int("sessions"),
				policy:   policy,
				addr:     c.String("addr"),
				itemID:   c.Int64("item"),
			})
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	stock    int
	sessions int
	policy   domain.DeductionPolicy
	addr     string
	itemID   int64
}

// buyer is what the run needs from either an in-process shop or a remote one.
type buyer interface {
	AddToCart(ctx context.Context, session string, itemID int64) error
	Checkout(ctx context.Context, session, requestID string) (int64, error)
	ConfirmAndDeliver(ctx context.Context, orderID int64) error
	Stock(ctx context.Context, itemID int64) (int, error)
}

func run(ctx context.Context, opts options) error {
	var (
		b       buyer
		initial int
		err     error
	)
	if opts.addr != "" {
		b, err = dialRemote(opts.addr)
		if err != nil {
			return err
		}
		if initial, err = b.Stock(ctx, opts.itemID); err != nil {
			return fmt.Errorf("read initial stock: %w", err)
		}
	} else {
		dir, err := os.MkdirTemp("", "stress-catalog-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		b, err = newLocal(ctx, filepath.Join(dir, "catalog.csv"), opts)
		if err != nil {
			return err
		}
		initial = opts.stock
	}

	var placed, rejected, delivered, conflicts atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < opts.sessions; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			session := fmt.Sprintf("stress-%d-%d", start.UnixNano(), n)
			if err := b.AddToCart(ctx, session, opts.itemID); err != nil {
				rejected.Add(1)
				return
			}
			orderID, err := b.Checkout(ctx, session, session)
			if err != nil {
				rejected.Add(1)
				return
			}
			placed.Add(1)
			if err := b.ConfirmAndDeliver(ctx, orderID); err != nil {
				conflicts.Add(1)
				return
			}
			delivered.Add(1)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	final, err := b.Stock(ctx, opts.itemID)
	if err != nil {
		return fmt.Errorf("read final stock: %w", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initial)
	fmt.Printf("Sessions:         %d\n", opts.sessions)
	fmt.Printf("Orders Placed:    %d\n", placed.Load())
	fmt.Printf("Rejected:         %d\n", rejected.Load())
	fmt.Printf("Delivered:        %d\n", delivered.Load())
	fmt.Printf("Stock Conflicts:  %d\n", conflicts.Load())
	fmt.Printf("Final Stock:      %d\n", final)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	want := min(initial, opts.sessions)
	if int(delivered.Load()) != want || final != initial-want {
		return fmt.Errorf("FAIL: expected %d delivered and stock %d, got %d and %d",
			want, initial-want, delivered.Load(), final)
	}
	fmt.Printf("PASS: exactly %d units sold, stock never negative\n", want)
	return nil
}

type localBuyer struct {
	shop *service.Shop
}

func newLocal(ctx context.Context, path string, opts options) (*localBuyer, error) {
	csv := fmt.Sprintf("id,name,category,price,stock,image_url\n%d,Stress item,Test,10,%d,\n", opts.itemID, opts.stock)
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		return nil, err
	}
	log := zap.NewNop()
	catalog := service.NewCatalogStore(storage.NewCSVAdapter(path, ','), service.WithCatalogLogger(log))
	if _, err := catalog.Load(ctx); err != nil {
		return nil, err
	}
	ledger := service.NewOrderLedger(catalog, opts.policy)
	shop := service.NewShop(catalog, service.NewCartManager(log), ledger,
		service.WithIdempotency(storage.NewMemoryIdempotency(time.Hour)))
	return &localBuyer{shop: shop}, nil
}

var stressContact = domain.Contact{Phone: "+1 555 000 0000", Address: "1 Load Test Avenue"}

func (l *localBuyer) AddToCart(ctx context.Context, session string, itemID int64) error {
	_, err := l.shop.AddToCart(session, itemID)
	return err
}

func (l *localBuyer) Checkout(ctx context.Context, session, requestID string) (int64, error) {
	o, err := l.shop.Checkout(ctx, session, stressContact, requestID)
	return o.ID, err
}

func (l *localBuyer) ConfirmAndDeliver(ctx context.Context, orderID int64) error {
	if _, err := l.shop.ConfirmOrder(ctx, orderID); err != nil {
		return err
	}
	_, err := l.shop.DeliverOrder(ctx, orderID)
	if errors.Is(err, domain.ErrStockConflict) {
		_, _ = l.shop.CancelOrder(ctx, orderID)
	}
	return err
}

func (l *localBuyer) Stock(ctx context.Context, itemID int64) (int, error) {
	it, err := l.shop.GetItem(itemID)
	return it.Stock, err
}

type remoteBuyer struct {
	client *handler.Client
}

func dialRemote(addr string) (*remoteBuyer, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &remoteBuyer{client: handler.NewClient(conn)}, nil
}

func (r *remoteBuyer) AddToCart(ctx context.Context, session string, itemID int64) error {
	_, err := r.client.AddToCart(ctx, session, itemID)
	return err
}

func (r *remoteBuyer) Checkout(ctx context.Context, session, requestID string) (int64, error) {
	o, err := r.client.Checkout(ctx, &handler.CheckoutCall{
		SessionID: session,
		Phone:     stressContact.Phone,
		Address:   stressContact.Address,
		RequestID: requestID,
	})
	if err != nil {
		return 0, err
	}
	return o.ID, nil
}

func (r *remoteBuyer) ConfirmAndDeliver(ctx context.Context, orderID int64) error {
	if _, err := r.client.ConfirmOrder(ctx, orderID); err != nil {
		return err
	}
	if _, err := r.client.DeliverOrder(ctx, orderID); err != nil {
		_, _ = r.client.CancelOrder(ctx, orderID)
		return err
	}
	return nil
}

func (r *remoteBuyer) Stock(ctx context.Context, itemID int64) (int, error) {
	it, err := r.client.GetItem(ctx, itemID)
	if err != nil {
		return 0, err
	}
	return it.Stock, nil
}
