package polymarket_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/predictbot/internal/adapters/polymarket"
	"github.com/alejandrodnm/predictbot/internal/domain"
)

func newTestClient(gammaSrv, clobSrv *httptest.Server) *polymarket.Client {
	gammaURL := ""
	clobURL := ""
	if gammaSrv != nil {
		gammaURL = gammaSrv.URL
	}
	if clobSrv != nil {
		clobURL = clobSrv.URL
	}
	return polymarket.NewClient(gammaURL, clobURL, "paper", 0.02, 0.04)
}

// gammaFixture genera un mercado crudo de Gamma con los campos que el
// filtro de tiers inspecciona.
func gammaFixture(id, question string, hoursOut, liquidity float64) map[string]any {
	return map[string]any{
		"id":            id,
		"question":      question,
		"outcomePrices": `["0.60", "0.40"]`,
		"endDate":       time.Now().UTC().Add(time.Duration(hoursOut * float64(time.Hour))).Format(time.RFC3339),
		"liquidity":     fmt.Sprintf("%.0f", liquidity),
		"volume24hr":    "125000",
		"clobTokenIds":  `["tok-yes", "tok-no"]`,
	}
}

func TestActiveMarketsTier1Filtra(t *testing.T) {
	fixtures := []map[string]any{
		gammaFixture("mkt-ok", "Will Trump win the election?", 48, 12000),
		gammaFixture("mkt-too-soon", "Will Biden speak today?", 0.1, 12000),  // < 15 min
		gammaFixture("mkt-too-far", "Will the senate vote in 2027?", 400, 12000), // > 7 días
		gammaFixture("mkt-illiquid", "Will congress pass the bill?", 48, 900),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("active"))
		assert.Equal(t, "false", r.URL.Query().Get("closed"))
		json.NewEncoder(w).Encode(fixtures)
	}))
	defer srv.Close()

	client := newTestClient(srv, nil)
	markets, err := client.ActiveMarkets(context.Background(), 1)

	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "mkt-ok", markets[0].ID)
	assert.Equal(t, domain.TypePolitical, markets[0].MarketType)
	assert.InDelta(t, 0.02, markets[0].FeeRate, 1e-9)
	assert.InDelta(t, 0.60, markets[0].YesPrice, 1e-9)
	assert.Equal(t, "tok-yes", markets[0].ClobTokenYes)
}

func TestActiveMarketsTier2SoloCrypto(t *testing.T) {
	fixtures := []map[string]any{
		gammaFixture("mkt-btc", "Will BTC be above $100k at 15:30?", 0.2, 3000),
		gammaFixture("mkt-pol", "Will Trump win the election?", 48, 50000),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(fixtures)
	}))
	defer srv.Close()

	client := newTestClient(srv, nil)
	markets, err := client.ActiveMarkets(context.Background(), 2)

	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "mkt-btc", markets[0].ID)
	assert.Equal(t, domain.TypeCrypto15m, markets[0].MarketType)
	assert.InDelta(t, 0.04, markets[0].FeeRate, 1e-9)
}

func TestActiveMarketsAPICaidaDegradaAVacio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := newTestClient(srv, nil)
	markets, err := client.ActiveMarkets(context.Background(), 1)

	require.Error(t, err)
	assert.Empty(t, markets)
}

func TestActiveMarketsCircuitoAbiertoTrasFallosConsecutivos(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := newTestClient(srv, nil)
	ctx := context.Background()

	// Tres fallos consecutivos abren el breaker.
	for i := 0; i < 3; i++ {
		_, err := client.ActiveMarkets(ctx, 1)
		require.Error(t, err)
	}

	// Con el circuito abierto el escaneo degrada a lista vacía sin error.
	markets, err := client.ActiveMarkets(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, markets)
}

func TestOrderbookTopCincoNiveles(t *testing.T) {
	book := map[string]any{
		"bids": []map[string]any{
			{"price": "0.59", "size": "100"},
			{"price": "0.58", "size": "200"},
			{"price": "0.57", "size": "300"},
			{"price": "0.56", "size": "400"},
			{"price": "0.55", "size": "500"},
			{"price": "0.54", "size": "600"}, // sexto nivel, descartado
		},
		"asks": []map[string]any{
			{"price": "0.61", "size": "150"},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book", r.URL.Path)
		assert.Equal(t, "tok-yes", r.URL.Query().Get("token_id"))
		json.NewEncoder(w).Encode(book)
	}))
	defer srv.Close()

	client := newTestClient(nil, srv)
	ob, err := client.Orderbook(context.Background(), "tok-yes", "mkt-1")

	require.NoError(t, err)
	assert.Equal(t, "mkt-1", ob.MarketID)
	assert.Equal(t, []float64{100, 200, 300, 400, 500}, ob.Bids)
	assert.Equal(t, []float64{150}, ob.Asks)
	assert.False(t, ob.Timestamp.IsZero())
}

func TestOrderbookSinTokenDevuelveLibroVacio(t *testing.T) {
	client := newTestClient(nil, nil)
	ob, err := client.Orderbook(context.Background(), "", "mkt-1")

	require.NoError(t, err)
	assert.Empty(t, ob.Bids)
	assert.Empty(t, ob.Asks)
}

func TestMarketIncluyeResolucion(t *testing.T) {
	raw := map[string]any{
		"id":            "mkt-1",
		"question":      "Will the election be certified?",
		"outcomePrices": `["0.95", "0.05"]`,
		"closed":        true,
		"resolutionPrices": map[string]string{
			"0": "1.0",
			"1": "0.0",
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets/mkt-1", r.URL.Path)
		json.NewEncoder(w).Encode(raw)
	}))
	defer srv.Close()

	client := newTestClient(srv, nil)
	m, err := client.Market(context.Background(), "mkt-1")

	require.NoError(t, err)
	require.NotNil(t, m)
	assert.True(t, m.Resolved)
	assert.Equal(t, "YES", m.Resolution)
}

func TestMarketInexistenteDevuelveNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(srv, nil)
	m, err := client.Market(context.Background(), "mkt-gone")

	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestPlaceOrderRechazadaEnPaper(t *testing.T) {
	client := newTestClient(nil, nil)
	err := client.PlaceOrder(context.Background(), "mkt-1", "BUY_YES", 0.60, 100)

	require.ErrorIs(t, err, polymarket.ErrPaperMode)
}

func TestPlaceOrderEnLivePosteaAlCLOB(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/order", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	client := polymarket.NewClient(srv.URL, srv.URL, "live", 0.02, 0.04)
	err := client.PlaceOrder(context.Background(), "mkt-1", "BUY_YES", 0.61, 150)

	require.NoError(t, err)
	assert.Equal(t, "mkt-1", got["market_id"])
	assert.Equal(t, "BUY_YES", got["side"])
	assert.InDelta(t, 0.61, got["price"].(float64), 1e-9)
	assert.InDelta(t, 150.0, got["size_usd"].(float64), 1e-9)
}
