package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	Tier1    TierConfig     `yaml:"tier1"`
	Tier2    TierConfig     `yaml:"tier2"`
	Monk     MonkConfig     `yaml:"monk_mode"`
	Learning LearningConfig `yaml:"learning"`
	API      APIConfig      `yaml:"api"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`

	// Environment: "paper" simula ejecución, "live" envía órdenes reales.
	Environment string `yaml:"environment"`
	// Model es el modelo LLM activo, registrado en cada TradeRecord.
	Model string `yaml:"model"`
	// InitialBankroll es el capital inicial del portfolio en USD.
	InitialBankroll float64 `yaml:"initial_bankroll"`
}

// TierConfig controla un nivel de escaneo (tier 1 = lento, tier 2 = crypto rápido).
type TierConfig struct {
	ScanIntervalMinutes int     `yaml:"scan_interval_minutes"`
	MinEdge             float64 `yaml:"min_edge"`
	DailyTradeCap       int     `yaml:"daily_trade_cap"`
	FeeRate             float64 `yaml:"fee_rate"`
}

// MonkConfig son los circuit breakers de riesgo ("Monk Mode").
type MonkConfig struct {
	DailyLossLimitPct       float64 `yaml:"daily_loss_limit_pct"`
	WeeklyLossLimitPct      float64 `yaml:"weekly_loss_limit_pct"`
	ConsecutiveLossCooldown int     `yaml:"consecutive_loss_cooldown"`
	DailyAPIBudgetUSD       float64 `yaml:"daily_api_budget_usd"`
	MaxPositionPct          float64 `yaml:"max_position_pct"`
	MaxTotalExposurePct     float64 `yaml:"max_total_exposure_pct"`
	MaxClusterExposurePct   float64 `yaml:"max_cluster_exposure_pct"`
	KellyFraction           float64 `yaml:"kelly_fraction"`
	MinPositionUSD          float64 `yaml:"min_position_usd"`
}

// LearningConfig controla el sistema de aprendizaje online.
type LearningConfig struct {
	// RecencyDecay pesa la evidencia por antigüedad: decay^días.
	RecencyDecay float64 `yaml:"recency_decay"`
	// DampenKeepScores es cuántos Brier scores sobreviven un model swap.
	DampenKeepScores int `yaml:"dampen_keep_scores"`
}

// APIConfig contiene base URLs de los servicios externos.
// Las credenciales vienen siempre de variables de entorno para que
// nunca acaben en un YAML commiteado.
type APIConfig struct {
	GammaBase string   `yaml:"gamma_base"`
	CLOBBase  string   `yaml:"clob_base"`
	XAIBase   string   `yaml:"xai_base"`
	XAIKey    string   `yaml:"-"` // env: XAI_API_KEY
	RSSFeeds  []string `yaml:"rss_feeds"`
}

// AlertsConfig controla las notificaciones por Telegram.
type AlertsConfig struct {
	TelegramToken  string `yaml:"-"` // env: TELEGRAM_BOT_TOKEN
	TelegramChatID string `yaml:"-"` // env: TELEGRAM_CHAT_ID
	// DailySummaryHourUTC es la hora (UTC) del resumen diario.
	DailySummaryHourUTC int `yaml:"daily_summary_hour_utc"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// Tier1Interval devuelve el intervalo de escaneo tier 1 como time.Duration.
func (c *Config) Tier1Interval() time.Duration {
	return time.Duration(c.Tier1.ScanIntervalMinutes) * time.Minute
}

// Tier2Interval devuelve el intervalo de escaneo tier 2 como time.Duration.
func (c *Config) Tier2Interval() time.Duration {
	return time.Duration(c.Tier2.ScanIntervalMinutes) * time.Minute
}

// TierFor devuelve la configuración del tier dado (1 o 2).
func (c *Config) TierFor(tier int) TierConfig {
	if tier == 2 {
		return c.Tier2
	}
	return c.Tier1
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("XAI_API_KEY"); v != "" {
		cfg.API.XAIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Alerts.TelegramToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Alerts.TelegramChatID = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "paper"
	}
	if cfg.Model == "" {
		cfg.Model = "grok-4-1-fast-reasoning"
	}
	if cfg.InitialBankroll <= 0 {
		cfg.InitialBankroll = 2000
	}

	if cfg.Tier1.ScanIntervalMinutes <= 0 {
		cfg.Tier1.ScanIntervalMinutes = 15
	}
	if cfg.Tier1.MinEdge <= 0 {
		cfg.Tier1.MinEdge = 0.04
	}
	if cfg.Tier1.DailyTradeCap <= 0 {
		cfg.Tier1.DailyTradeCap = 5
	}
	if cfg.Tier1.FeeRate <= 0 {
		cfg.Tier1.FeeRate = 0.02
	}

	if cfg.Tier2.ScanIntervalMinutes <= 0 {
		cfg.Tier2.ScanIntervalMinutes = 3
	}
	if cfg.Tier2.MinEdge <= 0 {
		cfg.Tier2.MinEdge = 0.05
	}
	if cfg.Tier2.DailyTradeCap <= 0 {
		cfg.Tier2.DailyTradeCap = 3
	}
	if cfg.Tier2.FeeRate <= 0 {
		cfg.Tier2.FeeRate = 0.04
	}

	if cfg.Monk.DailyLossLimitPct <= 0 {
		cfg.Monk.DailyLossLimitPct = 0.05
	}
	if cfg.Monk.WeeklyLossLimitPct <= 0 {
		cfg.Monk.WeeklyLossLimitPct = 0.10
	}
	if cfg.Monk.ConsecutiveLossCooldown <= 0 {
		cfg.Monk.ConsecutiveLossCooldown = 3
	}
	if cfg.Monk.DailyAPIBudgetUSD <= 0 {
		cfg.Monk.DailyAPIBudgetUSD = 8.0
	}
	if cfg.Monk.MaxPositionPct <= 0 {
		cfg.Monk.MaxPositionPct = 0.08
	}
	if cfg.Monk.MaxTotalExposurePct <= 0 {
		cfg.Monk.MaxTotalExposurePct = 0.30
	}
	if cfg.Monk.MaxClusterExposurePct <= 0 {
		cfg.Monk.MaxClusterExposurePct = 0.12
	}
	if cfg.Monk.KellyFraction <= 0 {
		cfg.Monk.KellyFraction = 0.25
	}
	if cfg.Monk.MinPositionUSD <= 0 {
		cfg.Monk.MinPositionUSD = 1.0
	}

	if cfg.Learning.RecencyDecay <= 0 {
		cfg.Learning.RecencyDecay = 0.95
	}
	if cfg.Learning.DampenKeepScores <= 0 {
		cfg.Learning.DampenKeepScores = 15
	}

	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.XAIBase == "" {
		cfg.API.XAIBase = "https://api.x.ai/v1"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "predictbot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
