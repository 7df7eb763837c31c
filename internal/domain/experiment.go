package domain

import "time"

// ExperimentRun agrupa trades bajo una misma configuración desplegada
// (típicamente un modelo). Exactamente un run está activo (EndedAt nil);
// cada TradeRecord referencia el run activo por ID.
type ExperimentRun struct {
	ID                string
	StartedAt         time.Time
	EndedAt           *time.Time
	ConfigSnapshot    map[string]string
	Description       string
	ModelUsed         string
	IncludeInLearning bool

	// Agregados rellenados al cerrar el run.
	TotalTrades int
	TotalPnL    float64
	AvgBrier    float64
	SharpeRatio float64
}

// Active devuelve true si el run sigue abierto.
func (r ExperimentRun) Active() bool {
	return r.EndedAt == nil
}

// ModelSwapEvent registra un cambio de modelo y el run que arrancó.
type ModelSwapEvent struct {
	Timestamp     time.Time
	OldModel      string
	NewModel      string
	Reason        string
	ExperimentRun string
}
