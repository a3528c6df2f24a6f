// Package discovery advertises running lobbies in etcd so clients can find a
// coordinator without knowing its address.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const Prefix = "/lobbysync/lobbies/"

func Key(id string) string { return Prefix + id }

// KV is the part of the etcd client discovery needs. *clientv3.Client
// satisfies it.
type KV interface {
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
	KeepAlive(ctx context.Context, id clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
}

func NewClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd client: %w", err)
	}
	return cli, nil
}

// Advertiser keeps one lobby key alive under a lease.
type Advertiser struct {
	kv     KV
	key    string
	lease  clientv3.LeaseID
	cancel context.CancelFunc
	done   chan struct{}
	log    *zap.Logger
}

// Advertise registers id -> addr until ctx ends or Close is called.
func Advertise(ctx context.Context, kv KV, id, addr string, ttl int64, log *zap.Logger) (*Advertiser, error) {
	lease, err := kv.Grant(ctx, ttl)
	if err != nil {
		return nil, fmt.Errorf("grant lease: %w", err)
	}
	key := Key(id)
	if _, err := kv.Put(ctx, key, addr, clientv3.WithLease(lease.ID)); err != nil {
		return nil, fmt.Errorf("put %s: %w", key, err)
	}

	kctx, cancel := context.WithCancel(ctx)
	ch, err := kv.KeepAlive(kctx, lease.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("keepalive: %w", err)
	}
	a := &Advertiser{
		kv:     kv,
		key:    key,
		lease:  lease.ID,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    log.Named("discovery"),
	}
	go a.drain(kctx, ch)
	a.log.Info("advertised", zap.String("key", key), zap.String("addr", addr), zap.Int64("ttl", ttl))
	return a, nil
}

// drain consumes keepalive replies; the client stalls the lease otherwise.
func (a *Advertiser) drain(ctx context.Context, ch <-chan *clientv3.LeaseKeepAliveResponse) {
	defer close(a.done)
	for range ch {
	}
	if ctx.Err() == nil {
		a.log.Warn("lease keepalive stopped", zap.String("key", a.key))
	}
}

func (a *Advertiser) Key() string { return a.key }

// Close withdraws the advertisement.
func (a *Advertiser) Close(ctx context.Context) error {
	a.cancel()
	<-a.done
	if _, err := a.kv.Revoke(ctx, a.lease); err != nil {
		return fmt.Errorf("revoke %s: %w", a.key, err)
	}
	return nil
}

// Lobby is one advertised coordinator.
type Lobby struct {
	ID   string
	Addr string
}

// List returns every advertised lobby ordered by id.
func List(ctx context.Context, kv KV) ([]Lobby, error) {
	resp, err := kv.Get(ctx, Prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list lobbies: %w", err)
	}
	out := make([]Lobby, 0, len(resp.Kvs))
	for _, e := range resp.Kvs {
		out = append(out, Lobby{
			ID:   strings.TrimPrefix(string(e.Key), Prefix),
			Addr: string(e.Value),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
