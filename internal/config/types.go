package config

// Config is the full casewatch configuration.
//
// All durations are Go duration strings (e.g. "20s", "5m", "1h").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	HTTP    HTTPConfig    `json:"http"`

	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Court    CourtConfig    `json:"court"`
	Watch    WatchConfig    `json:"watch"`
	Sweep    SweepConfig    `json:"sweep"`
	Orders   OrdersConfig   `json:"orders,omitempty"`
	Storage  StorageConfig  `json:"storage"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram configures the operator alert sink. Delivery failures of case
// notifications surface here, never to notification recipients.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":3000"
}

// WhatsAppConfig configures the messaging channel session.
type WhatsAppConfig struct {
	// StorePath is the sqlite file holding the paired device credentials.
	StorePath string `json:"store_path"`

	// AdminNumber is the one sender allowed to issue tracking commands.
	// Matched on digits only ("+91 81235-73669" and "918123573669" are equal).
	AdminNumber string `json:"admin_number"`

	// CountryCode is prefixed to bare 10-digit recipient numbers. Default "91".
	CountryCode string `json:"country_code,omitempty"`

	// SendRatePerSec throttles outbound messages. Default 3.
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
}

type CourtConfig struct {
	// BaseURL of the CCMS status application. Default is the Allahabad HC deployment.
	BaseURL string `json:"base_url,omitempty"`
	// FetchTimeout bounds a single status fetch. Default "20s".
	FetchTimeout string `json:"fetch_timeout,omitempty"`
}

// WatchConfig drives the single-case watch loop.
type WatchConfig struct {
	Enabled bool   `json:"enabled"`
	CINO    string `json:"cino"`
	// Interval between checks. Default "5m".
	Interval string `json:"interval,omitempty"`
	// Mode selects the notify strategy: "all-fields" (default) notifies on any
	// change, "hearing-date" only when the next hearing date moved.
	Mode string `json:"mode,omitempty"`
	// Recipients is a JSON array or comma-separated list of phone numbers.
	Recipients string `json:"recipients,omitempty"`
}

// SweepConfig drives the all-tracked-cases sweep.
type SweepConfig struct {
	Enabled bool `json:"enabled"`
	// Interval between sweeps. Default "30m".
	Interval string `json:"interval,omitempty"`
	// DedupWindow suppresses repeated sweep alerts with an identical composite
	// key. Default "24h".
	DedupWindow string `json:"dedup_window,omitempty"`
	// DedupMaxEntries bounds the in-memory dedup cache. Default 2000.
	DedupMaxEntries int `json:"dedup_max_entries,omitempty"`
}

// OrdersConfig drives the order-sheet watch (new judgment/order documents).
type OrdersConfig struct {
	Enabled  bool   `json:"enabled"`
	CaseType string `json:"case_type,omitempty"`
	CaseNo   string `json:"case_no,omitempty"`
	CaseYear string `json:"case_year,omitempty"`
	Interval string `json:"interval,omitempty"` // default "30m"
}

type StorageConfig struct {
	// Path of the sqlite database holding snapshots and tracked mappings.
	Path string `json:"path"`
	// BusyTimeout for sqlite. Default "5s".
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
