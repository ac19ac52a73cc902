package assignment

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
	"github.com/raghurammutya/signal-service-codex-review-sub000/pkg/conn"
)

const defaultPodKeyPrefix = "/signal/pods/"

// EtcdStore keeps pod entries in etcd under leases, so a pod that stops
// heartbeating is reaped by the server. Instruments live without a lease in
// a sibling directory of the pod prefix (/signal/instruments/ by default).
type EtcdStore struct {
	kv         *conn.LeasedKV
	prefix     string
	instPrefix string
}

// NewEtcdStore creates a store rooted at prefix (default /signal/pods/).
func NewEtcdStore(kv *conn.LeasedKV, prefix string) *EtcdStore {
	if prefix == "" {
		prefix = defaultPodKeyPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &EtcdStore{
		kv:         kv,
		prefix:     prefix,
		instPrefix: instrumentPrefix(prefix),
	}
}

func instrumentPrefix(podPrefix string) string {
	parent := path.Dir(strings.TrimSuffix(podPrefix, "/"))
	if parent == "/" || parent == "." {
		return "/instruments/"
	}
	return parent + "/instruments/"
}

func (s *EtcdStore) PutPod(ctx context.Context, pod model.PodInfo, ttl time.Duration) error {
	data, err := sonic.Marshal(pod)
	if err != nil {
		return errors.Wrap(err, "marshal pod").With("pod", pod.ID)
	}
	return s.kv.Put(ctx, s.prefix+pod.ID, data, ttl)
}

func (s *EtcdStore) DeletePod(ctx context.Context, podID string) error {
	return s.kv.Delete(ctx, s.prefix+podID)
}

func (s *EtcdStore) ListPods(ctx context.Context) ([]model.PodInfo, error) {
	values, err := s.kv.List(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	pods := make([]model.PodInfo, 0, len(values))
	for _, v := range values {
		var pod model.PodInfo
		if err := sonic.Unmarshal(v, &pod); err != nil {
			logs.Warnf("skip undecodable pod entry, err: %+v", err)
			continue
		}
		pods = append(pods, pod)
	}
	return pods, nil
}

func (s *EtcdStore) AddInstruments(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := s.kv.PutDurable(ctx, s.instPrefix+k, []byte(k)); err != nil {
			return errors.Wrap(err, "store instrument").With("instrument", k)
		}
	}
	return nil
}

func (s *EtcdStore) ListInstruments(ctx context.Context) ([]string, error) {
	values, err := s.kv.List(ctx, s.instPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out, nil
}
