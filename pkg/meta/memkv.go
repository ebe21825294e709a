// pkg/meta/memkv.go

package meta

import (
	"context"
	"sync"
)

func init() {
	Register("memkv", newMemKV)
}

type memStore struct {
	sync.Mutex
	quotas map[uint32]int64
}

// memkv stores live as long as the process, one per address.
var (
	memStoresMu sync.Mutex
	memStores   = make(map[string]*memStore)
)

type memKV struct {
	*memStore
	conf *Config
}

func newMemKV(driver, addr string, conf *Config) (QuotaStore, error) {
	memStoresMu.Lock()
	defer memStoresMu.Unlock()
	st, ok := memStores[addr]
	if !ok {
		st = &memStore{quotas: make(map[uint32]int64)}
		memStores[addr] = st
	}
	return &memKV{st, conf}, nil
}

func (m *memKV) Name() string {
	return "memkv"
}

func (m *memKV) Load(ctx context.Context) (map[uint32]int64, error) {
	m.Lock()
	defer m.Unlock()
	out := make(map[uint32]int64, len(m.quotas))
	for k, v := range m.quotas {
		out[k] = v
	}
	return out, nil
}

func (m *memKV) Set(ctx context.Context, uid uint32, bytes int64) error {
	if m.conf.ReadOnly {
		return ErrReadOnly
	}
	m.Lock()
	defer m.Unlock()
	m.quotas[uid] = bytes
	return nil
}

func (m *memKV) Delete(ctx context.Context, uid uint32) error {
	if m.conf.ReadOnly {
		return ErrReadOnly
	}
	m.Lock()
	defer m.Unlock()
	delete(m.quotas, uid)
	return nil
}

func (m *memKV) Close() error {
	return nil
}
