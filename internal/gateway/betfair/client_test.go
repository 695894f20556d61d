package betfair

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"betexec/internal/config"
	"betexec/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBetfair struct {
	t          *testing.T
	logins     atomic.Int32
	token      string
	rejectOnce atomic.Bool
	handlers   map[string]func(body map[string]any) (int, any)
}

func (f *fakeBetfair) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "app-key", r.Header.Get(headerApplication))
	if r.URL.Path == "/login" {
		require.NoError(f.t, r.ParseForm())
		assert.Equal(f.t, "user", r.PostForm.Get("username"))
		f.logins.Add(1)
		_ = json.NewEncoder(w).Encode(loginResponse{SessionToken: f.token, LoginStatus: "SUCCESS"})
		return
	}
	if f.rejectOnce.CompareAndSwap(true, false) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"faultcode":"Client","detail":{"APINGException":{"errorCode":"INVALID_SESSION_INFORMATION"}}}`)
		return
	}
	assert.Equal(f.t, f.token, r.Header.Get(headerAuthentication))
	h, ok := f.handlers[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	code, out := h(body)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(out)
}

func newTestClient(t *testing.T, handlers map[string]func(map[string]any) (int, any)) (*Client, *fakeBetfair) {
	t.Helper()
	fake := &fakeBetfair{t: t, token: "tok-1", handlers: handlers}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c, err := NewClient(config.ExchangeConfig{
		Mode:              "live",
		AppKey:            "app-key",
		Username:          "user",
		Password:          "pass",
		APIURL:            srv.URL + "/api",
		AccountURL:        srv.URL + "/account/",
		LoginURL:          srv.URL + "/login",
		TimeoutSeconds:    5,
		RequestsPerSecond: 1000,
		Burst:             100,
	})
	require.NoError(t, err)
	return c, fake
}

func TestPlaceOrder_SendsLimitLapseAndParsesReport(t *testing.T) {
	var got map[string]any
	c, fake := newTestClient(t, map[string]func(map[string]any) (int, any){
		"/api/placeOrders/": func(body map[string]any) (int, any) {
			got = body
			return 200, map[string]any{
				"status": "SUCCESS", "marketId": "1.2",
				"instructionReports": []map[string]any{{
					"status": "SUCCESS", "betId": "31", "orderStatus": "EXECUTION_COMPLETE",
					"sizeMatched": 10, "averagePriceMatched": 2.52,
				}},
			}
		},
	})
	ctx := context.Background()
	res, err := c.PlaceOrder(ctx, types.OrderRequest{
		MarketID: "1.2", SelectionID: "47972", Side: types.SideBack,
		Odds: decimal.RequireFromString("2.5"), Stake: decimal.NewFromInt(10), CorrelationID: "surebet-20240510120000",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.logins.Load(), "first call logs in lazily")
	assert.Equal(t, "31", res.OrderID)
	assert.Equal(t, types.StatusMatched, res.Status)
	assert.True(t, res.AvgPriceMatched.Equal(decimal.RequireFromString("2.52")))

	ins := got["instructions"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(47972), ins["selectionId"])
	assert.Equal(t, "BACK", ins["side"])
	assert.Equal(t, "LIMIT", ins["orderType"])
	lo := ins["limitOrder"].(map[string]any)
	assert.Equal(t, 2.5, lo["price"])
	assert.Equal(t, float64(10), lo["size"])
	assert.Equal(t, "LAPSE", lo["persistenceType"])
}

func TestPlaceOrder_FailureReportIsGatewayFailure(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, any){
		"/api/placeOrders/": func(map[string]any) (int, any) {
			return 200, map[string]any{
				"status": "FAILURE", "errorCode": "BET_ACTION_ERROR",
				"instructionReports": []map[string]any{{"status": "FAILURE", "errorCode": "INVALID_ODDS"}},
			}
		},
	})
	_, err := c.PlaceOrder(context.Background(), types.OrderRequest{
		MarketID: "1.2", SelectionID: "1", Side: types.SideLay, Odds: decimal.NewFromInt(3), Stake: decimal.NewFromInt(5),
	})
	require.Error(t, err)
	assert.Equal(t, types.KindGatewayFailure, types.KindOf(err))
	assert.Contains(t, err.Error(), "INVALID_ODDS")
}

func TestPlaceOrder_NonNumericSelection(t *testing.T) {
	c, _ := newTestClient(t, nil)
	_, err := c.PlaceOrder(context.Background(), types.OrderRequest{MarketID: "1.2", SelectionID: "abc", Side: types.SideBack})
	assert.Equal(t, types.KindMalformedInput, types.KindOf(err))
}

func TestListCurrentOrders(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, any){
		"/api/listCurrentOrders/": func(body map[string]any) (int, any) {
			assert.Equal(t, []any{"1.2"}, body["marketIds"])
			return 200, map[string]any{"currentOrders": []map[string]any{
				{"betId": "31", "marketId": "1.2", "selectionId": 47972, "side": "LAY", "status": "EXECUTABLE",
					"priceSize": map[string]any{"price": 3, "size": 20}, "sizeRemaining": 15, "sizeMatched": 5},
			}}
		},
	})
	orders, err := c.ListCurrentOrders(context.Background(), "1.2")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, types.SideLay, o.Side)
	assert.Equal(t, types.StatusPending, o.Status)
	assert.Equal(t, "47972", o.SelectionID)
	assert.True(t, o.SizeRemaining.Equal(decimal.NewFromInt(15)))
}

func TestListCurrentOrders_HTTPErrorIsReturned(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, any){
		"/api/listCurrentOrders/": func(map[string]any) (int, any) {
			return 503, map[string]any{"faultcode": "Server"}
		},
	})
	orders, err := c.ListCurrentOrders(context.Background(), "1.2")
	assert.Nil(t, orders)
	assert.Equal(t, types.KindGatewayFailure, types.KindOf(err))
}

func TestCancelOrder(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, any){
		"/api/cancelOrders/": func(body map[string]any) (int, any) {
			ins := body["instructions"].([]any)[0].(map[string]any)
			assert.Equal(t, "31", ins["betId"])
			_, hasReduction := ins["sizeReduction"]
			assert.False(t, hasReduction)
			return 200, map[string]any{"status": "SUCCESS", "instructionReports": []map[string]any{{"status": "SUCCESS", "sizeCancelled": 20}}}
		},
	})
	res, err := c.CancelOrder(context.Background(), "1.2", "31")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.SizeCancelled.Equal(decimal.NewFromInt(20)))
}

func TestUpdateOrder_ReplacePrice(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, any){
		"/api/replaceOrders/": func(body map[string]any) (int, any) {
			ins := body["instructions"].([]any)[0].(map[string]any)
			assert.Equal(t, 2.6, ins["newPrice"])
			return 200, map[string]any{"status": "SUCCESS", "instructionReports": []map[string]any{{
				"status":                  "SUCCESS",
				"cancelInstructionReport": map[string]any{"status": "SUCCESS"},
				"placeInstructionReport":  map[string]any{"status": "SUCCESS", "betId": "32", "orderStatus": "EXECUTABLE"},
			}}}
		},
	})
	odds := decimal.RequireFromString("2.6")
	res, err := c.UpdateOrder(context.Background(), "1.2", "31", nil, &odds)
	require.NoError(t, err)
	assert.Equal(t, "32", res.OrderID)
	assert.Equal(t, types.StatusPending, res.Status)
}

func TestUpdateOrder_ReduceThenReplace(t *testing.T) {
	var calls []string
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, any){
		"/api/listCurrentOrders/": func(map[string]any) (int, any) {
			calls = append(calls, "list")
			return 200, map[string]any{"currentOrders": []map[string]any{
				{"betId": "31", "marketId": "1.2", "selectionId": 7, "side": "BACK", "status": "EXECUTABLE",
					"priceSize": map[string]any{"price": 2.5, "size": 20}, "sizeRemaining": 20, "sizeMatched": 0},
			}}
		},
		"/api/cancelOrders/": func(body map[string]any) (int, any) {
			calls = append(calls, "cancel")
			ins := body["instructions"].([]any)[0].(map[string]any)
			assert.Equal(t, float64(8), ins["sizeReduction"])
			return 200, map[string]any{"status": "SUCCESS", "instructionReports": []map[string]any{{"status": "SUCCESS", "sizeCancelled": 8}}}
		},
		"/api/replaceOrders/": func(body map[string]any) (int, any) {
			calls = append(calls, "replace")
			ins := body["instructions"].([]any)[0].(map[string]any)
			assert.Equal(t, "31", ins["betId"])
			assert.Equal(t, 2.6, ins["newPrice"])
			return 200, map[string]any{"status": "SUCCESS", "instructionReports": []map[string]any{{
				"status":                 "SUCCESS",
				"placeInstructionReport": map[string]any{"status": "SUCCESS", "betId": "33", "orderStatus": "EXECUTABLE"},
			}}}
		},
	})
	stake := decimal.NewFromInt(12)
	odds := decimal.RequireFromString("2.6")
	res, err := c.UpdateOrder(context.Background(), "1.2", "31", &stake, &odds)
	require.NoError(t, err)
	assert.Equal(t, []string{"list", "cancel", "replace"}, calls)
	assert.Equal(t, "33", res.OrderID)
}

func TestAccountFunds(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, any){
		"/account/getAccountFunds/": func(map[string]any) (int, any) {
			return 200, map[string]any{"availableToBetBalance": 950.5, "exposure": -49.5, "wallet": "UK"}
		},
	})
	bal, err := c.GetAccountBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, bal.AvailableToBet.Equal(decimal.RequireFromString("950.5")))
	assert.True(t, bal.Exposure.Equal(decimal.RequireFromString("49.5")))
	assert.True(t, bal.Balance.Equal(decimal.NewFromInt(1000)))
}

func TestSessionRejectedTriggersRelogin(t *testing.T) {
	c, fake := newTestClient(t, map[string]func(map[string]any) (int, any){
		"/account/getAccountFunds/": func(map[string]any) (int, any) {
			return 200, map[string]any{"availableToBetBalance": 1}
		},
	})
	ctx := context.Background()
	require.NoError(t, c.Authenticate(ctx))
	fake.rejectOnce.Store(true)
	_, err := c.GetAccountBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.logins.Load())
}

func TestSessionExpiry(t *testing.T) {
	c, _ := newTestClient(t, nil)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	c.nowFn = func() time.Time { return now }
	require.NoError(t, c.Authenticate(context.Background()))
	assert.True(t, c.Authenticated())
	now = now.Add(8*time.Hour + time.Second)
	assert.False(t, c.Authenticated())
}
