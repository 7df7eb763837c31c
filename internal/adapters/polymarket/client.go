// Package polymarket implementa el acceso a las APIs de Polymarket:
// Gamma para descubrimiento y resolución de mercados, CLOB para
// orderbooks y órdenes. Todas las llamadas pasan por rate limiting
// y retries; el fetch de mercados además lleva circuit breaker para
// que una API caída degrade a listas vacías en vez de bloquear el
// ciclo de escaneo.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/predictbot/internal/domain"
	"github.com/alejandrodnm/predictbot/internal/ports"
)

const (
	defaultGammaBase = "https://gamma-api.polymarket.com"
	defaultCLOBBase  = "https://clob.polymarket.com"

	// Rate limits al 60% de los límites reales documentados.
	// Gamma /markets: 300/10s → 18/s. CLOB /book: 500/10s → 30/s.
	gammaRatePerSec = 18
	booksRatePerSec = 30

	marketsPageLimit = 100
	orderbookLevels  = 5

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond

	// Filtros de tier 1: resolución entre 15 minutos y 7 días,
	// liquidez mínima para que el slippage simulado sea creíble.
	tier1MinHours     = 0.25
	tier1MaxHours     = 168
	tier1MinLiquidity = 5000
)

// ErrPaperMode se devuelve al intentar colocar una orden real en entorno paper.
var ErrPaperMode = errors.New("polymarket: órdenes reales deshabilitadas en entorno paper")

// Client habla con Gamma y CLOB e implementa ports.MarketProvider y
// ports.OrderPlacer.
type Client struct {
	http         *http.Client
	gammaBase    string
	clobBase     string
	gammaLimiter *rate.Limiter
	booksLimiter *rate.Limiter
	breaker      *gobreaker.CircuitBreaker

	environment string
	tier1Fee    float64
	tier2Fee    float64

	now func() time.Time
}

var (
	_ ports.MarketProvider = (*Client)(nil)
	_ ports.OrderPlacer    = (*Client)(nil)
)

// NewClient crea un Client. Bases vacías usan los URLs de producción.
// environment es "paper" o "live"; en paper PlaceOrder devuelve ErrPaperMode.
func NewClient(gammaBase, clobBase, environment string, tier1Fee, tier2Fee float64) *Client {
	if gammaBase == "" {
		gammaBase = defaultGammaBase
	}
	if clobBase == "" {
		clobBase = defaultCLOBBase
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "polymarket-gamma",
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker cambió de estado",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Client{
		http:         &http.Client{Timeout: 15 * time.Second},
		gammaBase:    gammaBase,
		clobBase:     clobBase,
		gammaLimiter: rate.NewLimiter(gammaRatePerSec, 10),
		booksLimiter: rate.NewLimiter(booksRatePerSec, 5),
		breaker:      breaker,
		environment:  environment,
		tier1Fee:     tier1Fee,
		tier2Fee:     tier2Fee,
		now:          time.Now,
	}
}

// ActiveMarkets devuelve los mercados activos que pasan el filtro del tier.
// Tier 1: resolución entre 15m y 7d con liquidez mínima. Tier 2: solo
// mercados crypto de resolución rápida. Una API caída o rate-limiteada
// degrada a lista vacía con error.
func (c *Client) ActiveMarkets(ctx context.Context, tier int) ([]domain.Market, error) {
	u := fmt.Sprintf("%s/markets?active=true&closed=false&limit=%d", c.gammaBase, marketsPageLimit)

	raw, err := c.breaker.Execute(func() (any, error) {
		var resp []gammaMarket
		if err := c.get(ctx, c.gammaLimiter, u, &resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			slog.Warn("gamma circuit abierto, escaneo sin mercados", "tier", tier)
			return nil, nil
		}
		return nil, fmt.Errorf("polymarket.ActiveMarkets: %w", err)
	}
	rawMarkets := raw.([]gammaMarket)

	feeRate := c.tier1Fee
	if tier == 2 {
		feeRate = c.tier2Fee
	}

	now := c.now()
	var markets []domain.Market
	var filteredResolution, filteredLiquidity int
	for _, gm := range rawMarkets {
		m := mapGammaMarket(gm, feeRate)
		hours := m.HoursToResolution(now)

		switch tier {
		case 2:
			if m.MarketType != domain.TypeCrypto15m {
				continue
			}
		default:
			if hours < tier1MinHours || hours > tier1MaxHours {
				filteredResolution++
				continue
			}
			if m.Liquidity < tier1MinLiquidity {
				filteredLiquidity++
				continue
			}
		}
		markets = append(markets, m)
	}

	slog.Info("mercados filtrados",
		"tier", tier,
		"total_api", len(rawMarkets),
		"passed", len(markets),
		"filtered_resolution", filteredResolution,
		"filtered_liquidity", filteredLiquidity,
	)
	return markets, nil
}

// Orderbook devuelve los 5 primeros niveles de cada lado del libro.
// Sin token ID o con el CLOB caído devuelve un libro vacío: la ejecución
// simulada trata profundidad cero como liquidez mínima.
func (c *Client) Orderbook(ctx context.Context, tokenID, marketID string) (domain.OrderBook, error) {
	book := domain.OrderBook{MarketID: marketID}
	if tokenID == "" {
		slog.Warn("orderbook sin token ID", "market_id", marketID)
		return book, nil
	}

	u := fmt.Sprintf("%s/book?token_id=%s", c.clobBase, url.QueryEscape(tokenID))
	var resp clobBook
	if err := c.get(ctx, c.booksLimiter, u, &resp); err != nil {
		return book, fmt.Errorf("polymarket.Orderbook: market %s: %w", marketID, err)
	}

	for i, b := range resp.Bids {
		if i >= orderbookLevels {
			break
		}
		book.Bids = append(book.Bids, float64(b.Size))
	}
	for i, a := range resp.Asks {
		if i >= orderbookLevels {
			break
		}
		book.Asks = append(book.Asks, float64(a.Size))
	}
	book.Timestamp = c.now().UTC()
	return book, nil
}

// Market devuelve un mercado por ID incluyendo su estado de resolución.
// Un 404 devuelve (nil, nil): el mercado ya no existe.
func (c *Client) Market(ctx context.Context, id string) (*domain.Market, error) {
	u := fmt.Sprintf("%s/markets/%s", c.gammaBase, url.PathEscape(id))
	var gm gammaMarket
	if err := c.get(ctx, c.gammaLimiter, u, &gm); err != nil {
		var nf *notFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, fmt.Errorf("polymarket.Market: %s: %w", id, err)
	}
	m := mapGammaMarket(gm, c.tier1Fee)
	return &m, nil
}

// PlaceOrder envía una orden limit real al CLOB. Solo funciona en
// entorno live; paper debe simular la ejecución sin tocar este método.
func (c *Client) PlaceOrder(ctx context.Context, marketID, side string, price, sizeUSD float64) error {
	if c.environment != "live" {
		return ErrPaperMode
	}
	u := c.clobBase + "/order"
	body := clobOrderRequest{MarketID: marketID, Side: side, Price: price, SizeUSD: sizeUSD}
	var resp map[string]any
	if err := c.post(ctx, c.booksLimiter, u, body, &resp); err != nil {
		return fmt.Errorf("polymarket.PlaceOrder: market %s: %w", marketID, err)
	}
	slog.Info("orden enviada al CLOB", "market_id", marketID, "side", side, "price", price, "size_usd", sizeUSD)
	return nil
}

// notFoundError marca un 404 para que el caller lo distinga de otros
// errores de cliente.
type notFoundError struct{ url string }

func (e *notFoundError) Error() string { return fmt.Sprintf("not found: %s", e.url) }

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, url, out)
}

// post hace un POST JSON con rate limiting y retries.
func (c *Client) post(ctx context.Context, limiter *rate.Limiter, url string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, url, out)
}

// doWithRetry ejecuta la petición con backoff exponencial, respetando
// rate limits locales y 429 remotos.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error), url string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited por la API", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return &notFoundError{url: url}
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
