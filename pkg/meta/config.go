// pkg/meta/config.go

package meta

import "time"

// Config for quota clients.
type Config struct {
	Retries  int
	Prefix   string // prepended to every key, lets several buffers share one database
	ReadOnly bool
	Timeout  time.Duration
}

func (c *Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return time.Second * 5
	}
	return c.Timeout
}
