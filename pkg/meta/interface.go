// pkg/meta/interface.go

package meta

import (
	"context"
	"strings"

	"AveLog/pkg/utils"

	"github.com/pkg/errors"
)

var logger = utils.GetLogger("avelog")

// ErrReadOnly is returned when modifying a read-only quota store.
var ErrReadOnly = errors.New("quota store is read-only")

// QuotaStore keeps the byte quota of each application uid. A uid without
// an entry has no quota.
type QuotaStore interface {
	// Name of the store, e.g. redis.
	Name() string
	// Load returns every configured quota.
	Load(ctx context.Context) (map[uint32]int64, error)
	// Set the quota of uid to bytes.
	Set(ctx context.Context, uid uint32, bytes int64) error
	// Delete the quota of uid.
	Delete(ctx context.Context, uid uint32) error
	// Close releases the connection.
	Close() error
}

// Creator opens a quota store of a registered driver.
type Creator func(driver, addr string, conf *Config) (QuotaStore, error)

var quotaDrivers = make(map[string]Creator)

// Register makes a driver available to NewClient.
func Register(name string, register Creator) {
	quotaDrivers[name] = register
}

// NewClient opens the quota store at uri, e.g. redis://localhost:6379/1 or
// memkv://name. A uri without scheme is taken as a Redis address. memkv
// stores are shared by every client of the same name in one process and
// are lost when it exits.
func NewClient(uri string, conf *Config) (QuotaStore, error) {
	if conf == nil {
		conf = &Config{}
	}
	if !strings.Contains(uri, "://") {
		uri = "redis://" + uri
	}
	p := strings.Index(uri, "://")
	driver := uri[:p]
	f, ok := quotaDrivers[driver]
	if !ok {
		return nil, errors.Errorf("invalid quota driver: %s", driver)
	}
	m, err := f(driver, uri[p+3:], conf)
	if err != nil {
		return nil, errors.Wrapf(err, "quota store %s is not available", driver)
	}
	logger.Debugf("quota store %s opened", m.Name())
	return m, nil
}
