package orders

import (
	"context"

	"github.com/mwalsh/polyflow/internal/adapters/outbound/clob_http"
)

// Exchange is the slice of the exchange client the order manager
// needs. Tests substitute a fake.
type Exchange interface {
	PlaceOrder(ctx context.Context, req clob_http.OrderRequest) (*clob_http.OrderResult, error)
	PlaceBatch(ctx context.Context, reqs []clob_http.OrderRequest) ([]*clob_http.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelMarketOrders(ctx context.Context, tokenID string) error
	GetOpenOrders(ctx context.Context, tokenID string) ([]clob_http.OpenOrder, error)
}
