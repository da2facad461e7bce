package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Easycoder-lin/CHU-sub000/internal/cache"
	"github.com/Easycoder-lin/CHU-sub000/internal/engine"
	"github.com/Easycoder-lin/CHU-sub000/internal/metrics"
	"github.com/Easycoder-lin/CHU-sub000/internal/middleware"
	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

const spotify = "SPOTIFY-PREMIUM-1Y"

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func setupRouter(t *testing.T, mutate func(*Deps)) (*gin.Engine, *engine.Registry) {
	t.Helper()
	reg := engine.NewRegistry(engine.WithLogger(quietLogger()))
	d := Deps{Registry: reg, Log: quietLogger()}
	if mutate != nil {
		mutate(&d)
	}
	r := gin.New()
	RegisterRoutes(r, d)
	return r, reg
}

func doJSON(r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func placeOrder(t *testing.T, r http.Handler, side, actor string, price float64, qty int64) PlaceOrderResponse {
	t.Helper()
	w := doJSON(r, http.MethodPost, "/api/orders", gin.H{
		"product":  spotify,
		"side":     side,
		"price":    price,
		"quantity": qty,
		"actor":    actor,
		"wallet":   "wallet-" + strings.ToLower(actor),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[PlaceOrderResponse](t, w)
}

func TestPlaceOrder_RestsThenMatches(t *testing.T) {
	r, _ := setupRouter(t, nil)

	sell := placeOrder(t, r, "SELL", "SPONSOR", 9.50, 3)
	assert.Equal(t, models.Open, sell.Order.Status)
	assert.Empty(t, sell.Trades)

	buy := placeOrder(t, r, "BUY", "MEMBER", 10, 2)
	require.Len(t, buy.Trades, 1)
	assert.Equal(t, models.Price(950), buy.Trades[0].Price, "executes at the maker price")
	assert.Equal(t, int64(2), buy.Trades[0].Quantity)
	assert.Equal(t, models.SettlementPending, buy.Trades[0].Settlement)
	assert.Equal(t, models.Filled, buy.Order.Status)

	w := doJSON(r, http.MethodGet, "/api/products/"+spotify+"/orders/"+sell.Order.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resting := decode[models.Order](t, w)
	assert.Equal(t, models.Partial, resting.Status)
	assert.Equal(t, int64(1), resting.Remaining)
}

func TestPlaceOrder_DefaultProduct(t *testing.T) {
	r, reg := setupRouter(t, nil)

	w := doJSON(r, http.MethodPost, "/api/orders", gin.H{
		"side": "buy", "price": 5, "quantity": 1, "actor": "member",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[PlaceOrderResponse](t, w)
	assert.Equal(t, reg.DefaultProduct(), resp.Order.Product)
	assert.Equal(t, models.Buy, resp.Order.Side)
}

func TestPlaceOrder_Rejections(t *testing.T) {
	r, _ := setupRouter(t, nil)

	tests := []struct {
		name   string
		body   gin.H
		status int
		code   ErrorCode
		field  string
	}{
		{
			name:   "missing side",
			body:   gin.H{"product": spotify, "price": 5, "quantity": 1, "actor": "MEMBER"},
			status: http.StatusBadRequest,
			code:   ErrCodeInvalidRequest,
		},
		{
			name:   "member cannot sell",
			body:   gin.H{"product": spotify, "side": "SELL", "price": 5, "quantity": 1, "actor": "MEMBER"},
			status: http.StatusBadRequest,
			code:   ErrCodeValidationFailed,
			field:  "side",
		},
		{
			name:   "negative quantity",
			body:   gin.H{"product": spotify, "side": "BUY", "price": 5, "quantity": -1, "actor": "MEMBER"},
			status: http.StatusBadRequest,
			code:   ErrCodeValidationFailed,
			field:  "quantity",
		},
		{
			name:   "zero price",
			body:   gin.H{"product": spotify, "side": "BUY", "price": 0, "quantity": 1, "actor": "MEMBER"},
			status: http.StatusBadRequest,
			code:   ErrCodeValidationFailed,
			field:  "price",
		},
		{
			name:   "zero quantity",
			body:   gin.H{"product": spotify, "side": "BUY", "price": 5, "quantity": 0, "actor": "MEMBER"},
			status: http.StatusBadRequest,
			code:   ErrCodeValidationFailed,
			field:  "quantity",
		},
		{
			name:   "price beyond range",
			body:   gin.H{"product": spotify, "side": "BUY", "price": 200000000000000000, "quantity": 1, "actor": "MEMBER"},
			status: http.StatusBadRequest,
			code:   ErrCodeInvalidRequest,
		},
		{
			name:   "unknown product",
			body:   gin.H{"product": "HULU-1Y", "side": "BUY", "price": 5, "quantity": 1, "actor": "MEMBER"},
			status: http.StatusBadRequest,
			code:   ErrCodeValidationFailed,
			field:  "product",
		},
		{
			name:   "missing actor",
			body:   gin.H{"product": spotify, "side": "BUY", "price": 5, "quantity": 1},
			status: http.StatusBadRequest,
			code:   ErrCodeValidationFailed,
			field:  "actor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/api/orders", tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, string(tt.code), resp.Code)
			if tt.field != "" {
				assert.Contains(t, resp.Details, tt.field)
			}
		})
	}
}

func TestCancelOrder(t *testing.T) {
	r, _ := setupRouter(t, nil)
	sell := placeOrder(t, r, "SELL", "SPONSOR", 8, 2)
	path := "/api/products/" + spotify + "/orders/" + sell.Order.ID

	w := doJSON(r, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cancelled := decode[models.Order](t, w)
	assert.Equal(t, models.Cancelled, cancelled.Status)
	assert.Zero(t, cancelled.Remaining)

	w = doJSON(r, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(ErrCodeInvalidState), decode[ErrorResponse](t, w).Code)

	w = doJSON(r, http.MethodDelete, "/api/products/"+spotify+"/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(ErrCodeOrderNotFound), decode[ErrorResponse](t, w).Code)

	book := decode[engine.DepthSnapshot](t, doJSON(r, http.MethodGet, "/api/products/"+spotify+"/book", nil))
	assert.Empty(t, book.Asks)
}

func TestListOrders_FiltersAndPagination(t *testing.T) {
	r, _ := setupRouter(t, nil)
	for i := 0; i < 3; i++ {
		placeOrder(t, r, "SELL", "SPONSOR", float64(10+i), 1)
	}
	placeOrder(t, r, "BUY", "MEMBER", 5, 1)

	type listResponse struct {
		Orders     []models.Order `json:"orders"`
		Pagination Pagination     `json:"pagination"`
	}

	w := doJSON(r, http.MethodGet, "/api/products/"+spotify+"/orders?side=sell&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[listResponse](t, w)
	assert.Len(t, resp.Orders, 2)
	assert.Equal(t, 3, resp.Pagination.Total)
	for _, o := range resp.Orders {
		assert.Equal(t, models.Sell, o.Side)
	}

	w = doJSON(r, http.MethodGet, "/api/products/"+spotify+"/orders?side=sell&offset=10", nil)
	resp = decode[listResponse](t, w)
	assert.Empty(t, resp.Orders)
	assert.Equal(t, 3, resp.Pagination.Total)

	w = doJSON(r, http.MethodGet, "/api/products/"+spotify+"/orders?status=FILLED", nil)
	assert.Empty(t, decode[listResponse](t, w).Orders)

	w = doJSON(r, http.MethodGet, "/api/products/"+spotify+"/orders?side=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(r, http.MethodGet, "/api/products/"+spotify+"/orders?status=PENDING", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBook_AggregatesLevels(t *testing.T) {
	r, _ := setupRouter(t, nil)
	placeOrder(t, r, "SELL", "SPONSOR", 12, 2)
	placeOrder(t, r, "SELL", "SPONSOR", 12, 3)
	placeOrder(t, r, "BUY", "MEMBER", 10, 1)

	w := doJSON(r, http.MethodGet, "/api/products/"+spotify+"/book", nil)
	require.Equal(t, http.StatusOK, w.Code)
	book := decode[engine.DepthSnapshot](t, w)

	require.Len(t, book.Asks, 1)
	assert.Equal(t, int64(5), book.Asks[0].Quantity)
	assert.Equal(t, 2, book.Asks[0].Orders)
	require.Len(t, book.Bids, 1)
	require.NotNil(t, book.Spread)
	assert.Equal(t, models.Price(200), *book.Spread)
}

func TestTradesAllocationsAndMarkets(t *testing.T) {
	r, _ := setupRouter(t, nil)
	placeOrder(t, r, "SELL", "SPONSOR", 7, 1)
	placeOrder(t, r, "SELL", "SPONSOR", 8, 1)
	placeOrder(t, r, "BUY", "MEMBER", 8, 2)

	w := doJSON(r, http.MethodGet, "/api/products/"+spotify+"/trades?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	trades := decode[struct {
		Trades     []models.Trade `json:"trades"`
		Pagination Pagination     `json:"pagination"`
	}](t, w)
	require.Len(t, trades.Trades, 1)
	assert.Equal(t, 2, trades.Pagination.Total)
	assert.Equal(t, models.Price(800), trades.Trades[0].Price, "newest first")

	w = doJSON(r, http.MethodGet, "/api/wallets/wallet-member/allocations?product="+spotify, nil)
	require.Equal(t, http.StatusOK, w.Code)
	allocs := decode[struct {
		Allocations []models.Allocation `json:"allocations"`
		Count       int                 `json:"count"`
	}](t, w)
	assert.Equal(t, 2, allocs.Count)
	for _, a := range allocs.Allocations {
		assert.Equal(t, models.AllocationActive, a.State)
	}

	w = doJSON(r, http.MethodGet, "/api/wallets/nobody/allocations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"wallet":"nobody","allocations":[],"count":0}`, w.Body.String())

	w = doJSON(r, http.MethodGet, "/api/markets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	markets := decode[struct {
		Markets []engine.MarketSummary `json:"markets"`
	}](t, w)
	assert.Len(t, markets.Markets, len(models.DefaultProducts))
}

func TestListProducts(t *testing.T) {
	r, _ := setupRouter(t, nil)

	w := doJSON(r, http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		Products []models.Product `json:"products"`
		Default  models.ProductID `json:"default"`
		Count    int              `json:"count"`
	}](t, w)
	assert.Equal(t, len(models.DefaultProducts), resp.Count)
	assert.Equal(t, models.DefaultProducts[0].ID, resp.Default)
}

func TestSettlement_ConfirmAndFail(t *testing.T) {
	r, _ := setupRouter(t, nil)
	sell := placeOrder(t, r, "SELL", "SPONSOR", 9, 2)
	first := placeOrder(t, r, "BUY", "MEMBER", 9, 1)
	second := placeOrder(t, r, "BUY", "MEMBER", 9, 1)
	require.Len(t, first.Trades, 1)
	require.Len(t, second.Trades, 1)

	base := "/api/products/" + spotify + "/trades/"

	w := doJSON(r, http.MethodPost, base+first.Trades[0].ID+"/confirm", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "lock_ref is required")

	w = doJSON(r, http.MethodPost, base+first.Trades[0].ID+"/confirm", gin.H{"lock_ref": "lock-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	confirmed := decode[models.Trade](t, w)
	assert.Equal(t, models.SettlementConfirmed, confirmed.Settlement)
	assert.Equal(t, "lock-1", confirmed.LockRef)

	w = doJSON(r, http.MethodPost, base+first.Trades[0].ID+"/fail", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "a confirmed trade cannot fail")

	w = doJSON(r, http.MethodPost, base+second.Trades[0].ID+"/fail", gin.H{"reason": "escrow timeout"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.SettlementFailed, decode[models.Trade](t, w).Settlement)

	w = doJSON(r, http.MethodGet, "/api/products/"+spotify+"/orders/"+sell.Order.ID, nil)
	reverted := decode[models.Order](t, w)
	assert.Equal(t, int64(1), reverted.Remaining)
	assert.Equal(t, models.Partial, reverted.Status)

	w = doJSON(r, http.MethodPost, base+"missing/fail", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(ErrCodeTradeNotFound), decode[ErrorResponse](t, w).Code)
}

func TestSettlement_RequiresAPIKeyScope(t *testing.T) {
	keys := middleware.NewAPIKeyAuth(
		&middleware.APIKeyInfo{Key: "escrow-key", Service: "escrow", Scopes: []string{"settlement"}},
		&middleware.APIKeyInfo{Key: "reader-key", Service: "reports", Scopes: []string{"read"}},
	)
	r, _ := setupRouter(t, func(d *Deps) { d.SettlerKeys = keys })

	placeOrder(t, r, "SELL", "SPONSOR", 9, 1)
	buy := placeOrder(t, r, "BUY", "MEMBER", 9, 1)
	path := "/api/products/" + spotify + "/trades/" + buy.Trades[0].ID + "/confirm"
	body := gin.H{"lock_ref": "lock-9"}

	assert.Equal(t, http.StatusUnauthorized, doJSON(r, http.MethodPost, path, body).Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(r, http.MethodPost, path, body, "X-API-Key", "bogus").Code)
	assert.Equal(t, http.StatusForbidden, doJSON(r, http.MethodPost, path, body, "X-API-Key", "reader-key").Code)
	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodPost, path, body, "X-API-Key", "escrow-key").Code)
}

func TestAuth_ClaimsDriveActorAndWallet(t *testing.T) {
	auth := middleware.NewAuthMiddleware(middleware.DefaultAuthConfig("test-secret"))
	r, _ := setupRouter(t, func(d *Deps) { d.Auth = auth })

	sponsorToken, err := auth.GenerateToken("sponsor-1", "wallet-s", models.Sponsor)
	require.NoError(t, err)
	memberToken, err := auth.GenerateToken("member-1", "wallet-m", models.Member)
	require.NoError(t, err)
	bearer := func(tok string) []string { return []string{"Authorization", "Bearer " + tok} }

	w := doJSON(r, http.MethodPost, "/api/orders", gin.H{"product": spotify, "side": "SELL", "price": 4, "quantity": 1})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(r, http.MethodPost, "/api/orders",
		gin.H{"product": spotify, "side": "SELL", "price": 4, "quantity": 1}, bearer(sponsorToken)...)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sell := decode[PlaceOrderResponse](t, w)
	assert.Equal(t, models.Sponsor, sell.Order.Actor)
	assert.Equal(t, "wallet-s", sell.Order.Wallet)

	w = doJSON(r, http.MethodPost, "/api/orders",
		gin.H{"product": spotify, "side": "BUY", "price": 4, "quantity": 1, "actor": "SPONSOR"}, bearer(memberToken)...)
	assert.Equal(t, http.StatusForbidden, w.Code, "actor must match the token role")

	w = doJSON(r, http.MethodPost, "/api/orders",
		gin.H{"product": spotify, "side": "BUY", "price": 4, "quantity": 1, "wallet": "someone-else"}, bearer(memberToken)...)
	assert.Equal(t, http.StatusForbidden, w.Code, "wallet must match the token wallet")

	cancel := "/api/products/" + spotify + "/orders/" + sell.Order.ID
	w = doJSON(r, http.MethodDelete, cancel, nil, bearer(memberToken)...)
	assert.Equal(t, http.StatusForbidden, w.Code, "only the owning wallet may cancel")

	w = doJSON(r, http.MethodDelete, cancel, nil, bearer(sponsorToken)...)
	assert.Equal(t, http.StatusOK, w.Code)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeSnapshots struct {
	snap *cache.MarketSnapshot
	err  error
}

func (f fakeSnapshots) LoadMarketSnapshot(context.Context) (*cache.MarketSnapshot, error) {
	return f.snap, f.err
}

func TestAdmin_HealthDegradesOnBackendFailure(t *testing.T) {
	r, _ := setupRouter(t, func(d *Deps) {
		d.Backends = map[string]Pinger{
			"redis":    fakePinger{},
			"postgres": fakePinger{err: errors.New("connection refused")},
		}
	})

	w := doJSON(r, http.MethodGet, "/admin/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[AdminHealthResponse](t, w)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "healthy", resp.Services["redis"])
	assert.Contains(t, resp.Services["postgres"], "connection refused")
	assert.Equal(t, "healthy", resp.Services["engine"])
}

func TestAdmin_BooksBreakersAndSnapshot(t *testing.T) {
	breakers := middleware.NewCircuitBreakerManager()
	breakers.Breaker("postgres", nil)
	r, _ := setupRouter(t, func(d *Deps) {
		d.Breakers = breakers
		d.Snapshots = fakeSnapshots{err: cache.ErrMiss}
	})
	placeOrder(t, r, "SELL", "SPONSOR", 6, 1)

	w := doJSON(r, http.MethodGet, "/admin/books", nil)
	require.Equal(t, http.StatusOK, w.Code)
	books := decode[struct {
		Books []BookStats `json:"books"`
	}](t, w)
	require.Len(t, books.Books, len(models.DefaultProducts))
	assert.Equal(t, models.ProductID(spotify), books.Books[0].Product)
	assert.Equal(t, 1, books.Books[0].LiveOrders)

	w = doJSON(r, http.MethodGet, "/admin/breakers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres"`)

	w = doJSON(r, http.MethodGet, "/admin/snapshot", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodGet, "/admin/connections", nil)
	assert.JSONEq(t, `{"enabled":false}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	r, _ := setupRouter(t, func(d *Deps) {
		d.Metrics = m
		d.Gatherer = reg
	})

	doJSON(r, http.MethodGet, "/api/products", nil)
	doJSON(r, http.MethodPost, "/api/orders", gin.H{"side": "SELL", "price": 3, "quantity": 1, "actor": "MEMBER"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersRejected.WithLabelValues("side")))
	doJSON(r, http.MethodPost, "/api/orders", gin.H{"side": "BUY", "price": 0, "quantity": 1, "actor": "MEMBER"})
	doJSON(r, http.MethodPost, "/api/orders", gin.H{"side": "BUY", "price": 3, "actor": "MEMBER"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersRejected.WithLabelValues("price")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersRejected.WithLabelValues("quantity")))

	w := doJSON(r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "seatbook_http_requests_total")
	assert.Contains(t, w.Body.String(), `path="/api/products"`)
}
