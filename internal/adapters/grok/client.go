// Package grok implementa el estimador de probabilidades contra la API
// de chat-completions de xAI. El parseo de la respuesta tolera los
// formatos habituales de un LLM (JSON directo, fences de markdown,
// JSON embebido en prosa) y el coste de tokens se contabiliza en
// storage como efecto secundario de cada llamada.
package grok

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/alejandrodnm/predictbot/internal/domain"
	"github.com/alejandrodnm/predictbot/internal/ports"
)

const (
	defaultBase  = "https://api.x.ai/v1"
	defaultModel = "grok-4-1-fast-reasoning"

	maxRetries    = 2 // 3 intentos en total
	maxTokens     = 500
	temperature   = 0.1
	baseRetryWait = time.Second

	// Precios aproximados por token del modelo fast.
	costPerTokenIn  = 0.000005
	costPerTokenOut = 0.000025
)

// Errores de validación de la respuesta del LLM. El retry los trata
// igual (reintenta), pero el registro de fallos distingue la causa.
var (
	ErrMalformedJSON = errors.New("grok: respuesta no contiene JSON parseable")
	ErrMissingField  = errors.New("grok: respuesta sin campos requeridos")
	ErrOutOfRange    = errors.New("grok: probabilidad o confianza fuera de [0,1]")
)

// CostStore es el subconjunto de storage que el cliente necesita:
// contabilidad de coste y registro de fallos. ports.Storage lo satisface.
type CostStore interface {
	AddAPICost(ctx context.Context, service string, tokensIn, tokensOut int, costUSD float64) error
	RecordParseFailure(ctx context.Context, marketID, cause string) error
}

// Client llama a la API de xAI e implementa ports.Estimator.
type Client struct {
	http   *http.Client
	base   string
	apiKey string
	model  string
	store  CostStore

	sleep func(ctx context.Context, d time.Duration)
}

var _ ports.Estimator = (*Client)(nil)

// NewClient crea un Client. Base vacía usa la API de producción.
func NewClient(base, apiKey, model string, store CostStore) *Client {
	if base == "" {
		base = defaultBase
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{
		http:   &http.Client{Timeout: 30 * time.Second},
		base:   base,
		apiKey: apiKey,
		model:  model,
		store:  store,
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		},
	}
}

// Model devuelve el identificador del modelo en uso. Es el valor que
// los trade records guardan en model_used.
func (c *Client) Model() string { return c.model }

// Estimate pide una estimación para el mercado con backoff lineal entre
// intentos. Agotados los retries registra el fallo en storage y devuelve
// el último error.
func (c *Client) Estimate(ctx context.Context, marketID, prompt string) (*domain.Estimate, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			c.sleep(ctx, time.Duration(attempt)*baseRetryWait)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}

		raw, err := c.complete(ctx, prompt)
		if err != nil {
			lastErr = err
			slog.Warn("llamada a grok falló", "market_id", marketID, "attempt", attempt, "err", err)
			continue
		}

		est, err := parseEstimate(raw)
		if err != nil {
			lastErr = err
			slog.Warn("respuesta de grok inválida", "market_id", marketID, "attempt", attempt, "err", err)
			continue
		}
		return est, nil
	}

	slog.Error("grok agotó los retries", "market_id", marketID, "err", lastErr)
	if err := c.store.RecordParseFailure(ctx, marketID, lastErr.Error()); err != nil {
		slog.Warn("no se pudo registrar el parse failure", "market_id", marketID, "err", err)
	}
	return nil, fmt.Errorf("grok.Estimate: market %s: %w", marketID, lastErr)
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// complete hace la llamada cruda a chat-completions y contabiliza el
// coste de tokens aunque la respuesta luego no pase la validación.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("xai status %d: %s", resp.StatusCode, string(b))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("xai: respuesta sin choices")
	}

	cost := float64(cr.Usage.PromptTokens)*costPerTokenIn + float64(cr.Usage.CompletionTokens)*costPerTokenOut
	if err := c.store.AddAPICost(ctx, "grok", cr.Usage.PromptTokens, cr.Usage.CompletionTokens, cost); err != nil {
		slog.Warn("no se pudo registrar el coste de API", "err", err)
	}

	return cr.Choices[0].Message.Content, nil
}

// estimatePayload es el JSON que el prompt le pide al modelo.
type estimatePayload struct {
	EstimatedProbability *float64           `json:"estimated_probability"`
	Confidence           *float64           `json:"confidence"`
	Reasoning            *string            `json:"reasoning"`
	SignalInfoTypes      []domain.SignalTag `json:"signal_info_types"`
}

var (
	fenceOpen  = regexp.MustCompile("(?m)^```(?:json)?\\s*\n?")
	fenceClose = regexp.MustCompile("(?m)\n?```\\s*$")
	jsonBlock  = regexp.MustCompile(`(?s)\{.*\}`)
)

// parseEstimate extrae y valida el JSON de la respuesta del modelo.
func parseEstimate(raw string) (*domain.Estimate, error) {
	data, ok := parseJSONSafe(raw)
	if !ok {
		return nil, ErrMalformedJSON
	}

	var p estimatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, ErrMalformedJSON
	}
	if p.EstimatedProbability == nil || p.Confidence == nil || p.Reasoning == nil || p.SignalInfoTypes == nil {
		return nil, ErrMissingField
	}
	prob, conf := *p.EstimatedProbability, *p.Confidence
	if prob < 0 || prob > 1 || conf < 0 || conf > 1 {
		return nil, ErrOutOfRange
	}

	return &domain.Estimate{
		Probability: prob,
		Confidence:  conf,
		Reasoning:   *p.Reasoning,
		Tags:        p.SignalInfoTypes,
	}, nil
}

// parseJSONSafe intenta en orden: parse directo, quitar fences de
// markdown, y extraer el primer bloque {...} del texto.
func parseJSONSafe(raw string) ([]byte, bool) {
	text := strings.TrimSpace(raw)
	if json.Valid([]byte(text)) {
		return []byte(text), true
	}

	fenced := fenceOpen.ReplaceAllString(text, "")
	fenced = strings.TrimSpace(fenceClose.ReplaceAllString(fenced, ""))
	if json.Valid([]byte(fenced)) {
		return []byte(fenced), true
	}

	if m := jsonBlock.FindString(text); m != "" && json.Valid([]byte(m)) {
		return []byte(m), true
	}
	return nil, false
}
