package polymarket

import (
	"encoding/json"
	"strconv"
)

// gammaMarket es el DTO crudo de la API Gamma. Varios campos llegan
// como JSON doblemente codificado (strings que contienen arrays) o
// como números-en-string, de ahí los tipos flexibles.
type gammaMarket struct {
	ID               string          `json:"id"`
	ConditionID      string          `json:"condition_id"`
	Question         string          `json:"question"`
	Outcomes         stringList      `json:"outcomes"`
	OutcomePrices    floatList       `json:"outcomePrices"`
	EndDate          string          `json:"endDate"`
	EndDateISO       string          `json:"end_date_iso"`
	Volume24h        flexFloat       `json:"volume24hr"`
	Liquidity        flexFloat       `json:"liquidity"`
	Closed           bool            `json:"closed"`
	Resolved         bool            `json:"resolved"`
	ResolutionPrices map[string]flexFloat `json:"resolutionPrices"`
	ClobTokenIDs     stringList      `json:"clobTokenIds"`
	Tags             []string        `json:"tags"`
}

// clobBook es la respuesta de CLOB GET /book.
type clobBook struct {
	Bids []clobLevel `json:"bids"`
	Asks []clobLevel `json:"asks"`
}

type clobLevel struct {
	Price flexFloat `json:"price"`
	Size  flexFloat `json:"size"`
}

// clobOrderRequest es el body de una orden limit en el CLOB.
type clobOrderRequest struct {
	MarketID string  `json:"market_id"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	SizeUSD  float64 `json:"size_usd"`
}

// flexFloat acepta un número JSON o el mismo número citado como string.
// Gamma mezcla ambos formatos según el campo y la versión del endpoint.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// floatList acepta un array JSON de números/strings, o un string que
// contiene ese array codificado ("[\"0.62\", \"0.38\"]").
type floatList []float64

func (l *floatList) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*l = nil
			return nil
		}
		data = []byte(s)
	}
	var raw []flexFloat
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	*l = out
	return nil
}

// stringList acepta un array JSON de strings o un string que contiene
// ese array codificado.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*l = nil
			return nil
		}
		data = []byte(s)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*l = out
	return nil
}
