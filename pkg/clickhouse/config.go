package clickhouse

import (
	"time"

	"github.com/creasty/defaults"
)

type ClientOption func(*ClientConfig)

// ClientConfig holds connection and pool settings. WriteTimeout bounds the
// inserts callers issue; the driver itself has no write deadline.
type ClientConfig struct {
	Host            string
	Port            int           `default:"9000"`
	Database        string        `default:"default"`
	User            string        `default:"default"`
	Password        string
	MaxOpenConns    int           `default:"10"`
	MaxIdleConns    int           `default:"5"`
	ConnMaxLifetime time.Duration `default:"5m"`
	DialTimeout     time.Duration `default:"5s"`
	ReadTimeout     time.Duration `default:"10s"`
	WriteTimeout    time.Duration `default:"10s"`
	UseHTTP         bool
	AsyncInsert     bool
	WaitForAsync    bool
	MaxExecTime     time.Duration
}

func defaultConfig() ClientConfig {
	var c ClientConfig
	_ = defaults.Set(&c)
	return c
}

func WithHost(host string) ClientOption {
	return func(c *ClientConfig) { c.Host = host }
}

// WithPort and WithDatabase ignore zero values.
func WithPort(port int) ClientOption {
	return func(c *ClientConfig) {
		if port > 0 {
			c.Port = port
		}
	}
}

func WithDatabase(db string) ClientOption {
	return func(c *ClientConfig) {
		if db != "" {
			c.Database = db
		}
	}
}

func WithCredentials(user, password string) ClientOption {
	return func(c *ClientConfig) { c.User, c.Password = user, password }
}

func WithMaxConnections(maxOpen, maxIdle int) ClientOption {
	return func(c *ClientConfig) { c.MaxOpenConns, c.MaxIdleConns = maxOpen, maxIdle }
}

// WithTimeouts overrides the non-zero durations given.
func WithTimeouts(dial, read, write time.Duration) ClientOption {
	return func(c *ClientConfig) {
		for dst, v := range map[*time.Duration]time.Duration{&c.DialTimeout: dial, &c.ReadTimeout: read, &c.WriteTimeout: write} {
			if v > 0 {
				*dst = v
			}
		}
	}
}

// WithHTTP switches from the native protocol to HTTP.
func WithHTTP(on bool) ClientOption {
	return func(c *ClientConfig) { c.UseHTTP = on }
}

func WithAsyncInsert(enabled, wait bool) ClientOption {
	return func(c *ClientConfig) { c.AsyncInsert, c.WaitForAsync = enabled, wait }
}

func WithMaxExecutionTime(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.MaxExecTime = d }
}
