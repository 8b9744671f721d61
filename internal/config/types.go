package config

type Config struct {
	Logging LoggingConfig `json:"logging"`
	HTTP    HTTPConfig    `json:"http"`
	Storage StorageConfig `json:"storage"`

	// Delivery selects the active transport for the whole process.
	// Exactly one transport is active at a time; the choice is made once
	// at startup, never per request.
	Delivery DeliveryConfig `json:"delivery"`

	SMTP SMTPConfig `json:"smtp"`

	// Consumer controls the queued-delivery worker pool.
	// Only consulted when delivery.mode is "queued".
	Consumer *ConsumerConfig `json:"consumer,omitempty"`

	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the API listener.
//
// All timeouts are Go duration strings (e.g. "5s", "1m").
// MaxTake caps the page size accepted on the query surface; 0 means the
// default cap (100).
type HTTPConfig struct {
	Addr         string `json:"addr"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
	MaxTake      int    `json:"max_take,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": volatile in-process store (tests / throwaway runs)
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DeliveryConfig selects the transport and the fixed sender address
// stamped onto every composed message.
//
// Mode values:
//   - "smtp": send inline through the relay, block until accepted
//   - "queued": enqueue durably, deliver from the consumer pool
type DeliveryConfig struct {
	Mode   string `json:"mode"`
	Sender string `json:"sender"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	// Timeout bounds the whole relay conversation. Go duration string,
	// default "30s".
	Timeout string `json:"timeout,omitempty"`
}

// ConsumerConfig controls the queued-delivery worker pool.
//
// All durations are Go duration strings.
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - batch_size: 16
//   - poll_interval: "1s"
//   - rate_per_sec: 10
//   - retry_max: 5
//   - retry_base: "500ms"
//   - retry_max_delay: "1m"
//   - lease: "30s"
type ConsumerConfig struct {
	Workers       int    `json:"workers,omitempty"`
	BatchSize     int    `json:"batch_size,omitempty"`
	PollInterval  string `json:"poll_interval,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	Lease         string `json:"lease,omitempty"`
}

// MaintenanceConfig controls the background housekeeping job
// (lease reclaim + queue pruning).
//
// Schedule accepts a cron spec or a descriptor like "@every 1m".
type MaintenanceConfig struct {
	Schedule  string `json:"schedule,omitempty"`
	Retention string `json:"retention,omitempty"` // how long dead entries are kept
}
