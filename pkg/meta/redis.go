// pkg/meta/redis.go

package meta

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const quotaKey = "quotas"

type redisQuota struct {
	conf *Config
	rdb  redis.UniversalClient
	addr string
}

var _ QuotaStore = &redisQuota{}

func init() {
	Register("redis", newRedisQuota)
	Register("rediss", newRedisQuota)
}

// newRedisQuota return a quota store using Redis. Several comma separated
// hosts name a sentinel setup: master,sentinel1,sentinel2.
func newRedisQuota(driver, addr string, conf *Config) (QuotaStore, error) {
	url := driver + "://" + addr
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", url)
	}

	var rdb redis.UniversalClient
	if strings.Contains(opt.Addr, ",") {
		var fopt redis.FailoverOptions
		ps := strings.Split(opt.Addr, ",")
		fopt.MasterName = ps[0]
		fopt.SentinelAddrs = ps[1:]

		defaultSentinelPort := "26379"
		for i, saddr := range fopt.SentinelAddrs {
			h, p, err := net.SplitHostPort(saddr)
			if err != nil {
				fopt.SentinelAddrs[i] = net.JoinHostPort(saddr, defaultSentinelPort)
			} else if p == "" {
				fopt.SentinelAddrs[i] = net.JoinHostPort(h, defaultSentinelPort)
			}
		}

		fopt.Username = opt.Username
		fopt.Password = opt.Password
		if fopt.Password == "" && os.Getenv("REDIS_PASSWORD") != "" {
			fopt.Password = os.Getenv("REDIS_PASSWORD")
		}
		fopt.SentinelPassword = os.Getenv("SENTINEL_PASSWORD")
		fopt.DB = opt.DB
		fopt.TLSConfig = opt.TLSConfig
		fopt.MaxRetries = conf.Retries
		fopt.MinRetryBackoff = time.Millisecond * 100
		fopt.MaxRetryBackoff = time.Minute * 1
		fopt.ReadTimeout = conf.timeout()
		fopt.WriteTimeout = conf.timeout()
		rdb = redis.NewFailoverClient(&fopt)
	} else {
		if opt.Password == "" && os.Getenv("REDIS_PASSWORD") != "" {
			opt.Password = os.Getenv("REDIS_PASSWORD")
		}
		opt.MaxRetries = conf.Retries
		opt.MinRetryBackoff = time.Millisecond * 100
		opt.MaxRetryBackoff = time.Minute * 1
		opt.ReadTimeout = conf.timeout()
		opt.WriteTimeout = conf.timeout()
		rdb = redis.NewClient(opt)
	}

	return &redisQuota{conf: conf, rdb: rdb, addr: opt.Addr}, nil
}

func (r *redisQuota) Name() string {
	return "redis"
}

func (r *redisQuota) String() string {
	return "redis://" + r.addr
}

func (r *redisQuota) key() string {
	return r.conf.Prefix + quotaKey
}

func (r *redisQuota) Load(ctx context.Context) (map[uint32]int64, error) {
	var vals map[string]string
	err := r.retry(ctx, func() (err error) {
		vals, err = r.rdb.HGetAll(ctx, r.key()).Result()
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "load quotas")
	}
	out := make(map[uint32]int64, len(vals))
	for k, v := range vals {
		uid, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			logger.Warnf("ignore quota of invalid uid %q", k)
			continue
		}
		bytes, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			logger.Warnf("ignore invalid quota %q of uid %d", v, uid)
			continue
		}
		out[uint32(uid)] = bytes
	}
	return out, nil
}

func (r *redisQuota) Set(ctx context.Context, uid uint32, bytes int64) error {
	if r.conf.ReadOnly {
		return ErrReadOnly
	}
	return r.retry(ctx, func() error {
		return r.rdb.HSet(ctx, r.key(), strconv.FormatUint(uint64(uid), 10), bytes).Err()
	})
}

func (r *redisQuota) Delete(ctx context.Context, uid uint32) error {
	if r.conf.ReadOnly {
		return ErrReadOnly
	}
	return r.retry(ctx, func() error {
		return r.rdb.HDel(ctx, r.key(), strconv.FormatUint(uint64(uid), 10)).Err()
	})
}

func (r *redisQuota) Close() error {
	return r.rdb.Close()
}

func (r *redisQuota) retry(ctx context.Context, f func() error) error {
	b := &backoff.Backoff{
		Min:    10 * time.Millisecond,
		Max:    time.Second,
		Factor: 2,
		Jitter: true,
	}
	attempts := r.conf.Retries
	if attempts <= 0 {
		attempts = 10
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = f()
		if !shouldRetry(err) {
			return err
		}
		logger.Debugf("retry redis request: %s", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return err
}

type timeoutError interface {
	Timeout() bool
}

func shouldRetry(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case err == io.EOF, errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}

	if v, ok := err.(timeoutError); ok && v.Timeout() {
		return true
	}

	s := err.Error()
	if s == "ERR max number of clients reached" {
		return true
	}
	switch strings.SplitN(s, " ", 2)[0] {
	case "LOADING", "READONLY", "CLUSTERDOWN", "TRYAGAIN", "MOVED", "ASK":
		return true
	}
	return false
}
