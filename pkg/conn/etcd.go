package conn

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const defaultEtcdDialTimeout = 5 * time.Second

// EtcdOption defines connection options for etcd.
type EtcdOption struct {
	Endpoints   []string      `json:"endpoints"`
	DialTimeout time.Duration `json:"dialTimeout"`
	Username    string        `json:"username"`
	Password    string        `json:"password"`
}

// NewEtcd creates an etcd client from the provided options.
func NewEtcd(option EtcdOption) (*clientv3.Client, error) {
	if len(option.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints are empty")
	}
	timeout := option.DialTimeout
	if timeout <= 0 {
		timeout = defaultEtcdDialTimeout
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   option.Endpoints,
		DialTimeout: timeout,
		Username:    option.Username,
		Password:    option.Password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "dial etcd").With("endpoints", option.Endpoints)
	}
	return cli, nil
}

// LeasedKV writes keys attached to per-key leases so that a key vanishes
// when its writer stops refreshing it.
type LeasedKV struct {
	cli *clientv3.Client

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // protected by mu
}

// NewLeasedKV wraps an etcd client.
func NewLeasedKV(cli *clientv3.Client) *LeasedKV {
	return &LeasedKV{
		cli:    cli,
		leases: make(map[string]clientv3.LeaseID),
	}
}

// Put writes value under key and refreshes the key's lease to ttl.
func (l *LeasedKV) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	leaseID, err := l.lease(ctx, key, ttl)
	if err != nil {
		return err
	}
	if _, err := l.cli.Put(ctx, key, string(value), clientv3.WithLease(leaseID)); err != nil {
		return errors.Wrap(err, "put leased key").With("key", key)
	}
	return nil
}

// PutDurable writes value under key without a lease.
func (l *LeasedKV) PutDurable(ctx context.Context, key string, value []byte) error {
	if _, err := l.cli.Put(ctx, key, string(value)); err != nil {
		return errors.Wrap(err, "put key").With("key", key)
	}
	return nil
}

// Delete removes key and revokes its lease.
func (l *LeasedKV) Delete(ctx context.Context, key string) error {
	l.mu.Lock()
	leaseID, ok := l.leases[key]
	delete(l.leases, key)
	l.mu.Unlock()

	if ok {
		if _, err := l.cli.Revoke(ctx, leaseID); err != nil {
			return errors.Wrap(err, "revoke lease").With("key", key)
		}
		return nil
	}
	if _, err := l.cli.Delete(ctx, key); err != nil {
		return errors.Wrap(err, "delete key").With("key", key)
	}
	return nil
}

// List returns every value stored under prefix.
func (l *LeasedKV) List(ctx context.Context, prefix string) ([][]byte, error) {
	resp, err := l.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "list prefix").With("prefix", prefix)
	}
	out := make([][]byte, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out = append(out, kv.Value)
	}
	return out, nil
}

func (l *LeasedKV) lease(ctx context.Context, key string, ttl time.Duration) (clientv3.LeaseID, error) {
	l.mu.Lock()
	leaseID, ok := l.leases[key]
	l.mu.Unlock()

	if ok {
		if _, err := l.cli.KeepAliveOnce(ctx, leaseID); err == nil {
			return leaseID, nil
		}
		// lease expired on the server; grant a fresh one below
	}

	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	resp, err := l.cli.Grant(ctx, seconds)
	if err != nil {
		return 0, errors.Wrap(err, "grant lease").With("key", key)
	}

	l.mu.Lock()
	l.leases[key] = resp.ID
	l.mu.Unlock()
	return resp.ID, nil
}
