package domain

import "time"

// Tipos de mercado conocidos. Se manejan como strings (la DB y el clasificador
// trabajan con texto libre); estas constantes evitan typos en el código.
const (
	TypePolitical  = "political"
	TypeEconomic   = "economic"
	TypeCrypto15m  = "crypto_15m"
	TypeSports     = "sports"
	TypeCultural   = "cultural"
	TypeRegulatory = "regulatory"
)

// Market representa un mercado de predicción binario.
type Market struct {
	ID             string
	Question       string
	YesPrice       float64
	NoPrice        float64
	ResolutionTime time.Time // cero = desconocida
	Volume24h      float64
	Liquidity      float64
	MarketType     string // political, economic, crypto_15m, sports, cultural, regulatory
	FeeRate        float64
	Keywords       []string
	ClobTokenYes   string // token ID del lado YES para el orderbook
	Resolved       bool
	Resolution     string // "YES" | "NO" cuando Resolved
}

// HoursToResolution devuelve las horas hasta que el mercado se resuelve.
// Devuelve 0 si ResolutionTime no está definido o ya pasó.
func (m Market) HoursToResolution(now time.Time) float64 {
	if m.ResolutionTime.IsZero() {
		return 0
	}
	h := m.ResolutionTime.Sub(now).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// OrderBook es el libro de órdenes de un token (top 5 por lado, tamaños en USD).
type OrderBook struct {
	MarketID  string
	Bids      []float64
	Asks      []float64
	Timestamp time.Time
}

// Depth devuelve la profundidad total del libro en USD (bids + asks).
func (b OrderBook) Depth() float64 {
	var total float64
	for _, v := range b.Bids {
		total += v
	}
	for _, v := range b.Asks {
		total += v
	}
	return total
}

// Signal es un item de contenido puntuado por los pipelines de señales.
type Signal struct {
	Source       string // "twitter" | "rss" | "market_data"
	SourceTier   string // S1..S6
	InfoType     string // I1..I5, vacío hasta que el estimador lo clasifique
	Content      string
	Credibility  float64
	Author       string
	Followers    int
	Engagement   int
	Timestamp    time.Time
	HeadlineOnly bool
}

// SignalTag es la clasificación (tier, tipo) que el estimador asigna a cada
// señal usada en su razonamiento. Timestamp es opcional: sin él, la señal no
// participa en el decaimiento temporal del pipeline de ajuste.
type SignalTag struct {
	SourceTier string     `json:"source_tier"`
	InfoType   string     `json:"info_type"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// Estimate es la salida del estimador LLM para un mercado.
type Estimate struct {
	Probability float64
	Confidence  float64
	Reasoning   string
	Tags        []SignalTag
}

// CredibilityForTier devuelve la credibilidad base de un source tier.
func CredibilityForTier(tier string) float64 {
	switch tier {
	case "S1":
		return 0.95
	case "S2":
		return 0.90
	case "S3":
		return 0.80
	case "S4":
		return 0.65
	case "S5":
		return 0.70
	default: // S6 y desconocidos
		return 0.30
	}
}
