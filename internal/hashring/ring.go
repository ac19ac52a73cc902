// Package hashring maps instrument keys to pods with a virtual-node
// consistent hash ring. Readers work on an immutable snapshot and never
// block; membership changes build a new snapshot under a writer lock.
package hashring

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash"
)

const (
	defaultVNodesPerUnit = 5.0
	defaultMinVNodes     = 16
	defaultMaxVNodes     = 4096
)

// Config controls how many virtual nodes a pod gets for its capacity.
type Config struct {
	VNodesPerUnit float64 `json:"vnodesPerUnit"`
	MinVNodes     int     `json:"minVNodes"`
	MaxVNodes     int     `json:"maxVNodes"`
}

// DefaultConfig returns the ring defaults.
func DefaultConfig() Config {
	return Config{
		VNodesPerUnit: defaultVNodesPerUnit,
		MinVNodes:     defaultMinVNodes,
		MaxVNodes:     defaultMaxVNodes,
	}
}

func (c Config) withDefaults() Config {
	if c.VNodesPerUnit <= 0 {
		c.VNodesPerUnit = defaultVNodesPerUnit
	}
	if c.MinVNodes <= 0 {
		c.MinVNodes = defaultMinVNodes
	}
	if c.MaxVNodes < c.MinVNodes {
		c.MaxVNodes = defaultMaxVNodes
		if c.MaxVNodes < c.MinVNodes {
			c.MaxVNodes = c.MinVNodes
		}
	}
	return c
}

// VNodes returns the virtual-node count for a pod of the given capacity.
func (c Config) VNodes(capacity int) int {
	c = c.withDefaults()
	n := int(float64(capacity) * c.VNodesPerUnit)
	if n < c.MinVNodes {
		n = c.MinVNodes
	}
	if n > c.MaxVNodes {
		n = c.MaxVNodes
	}
	return n
}

type vnode struct {
	hash uint64
	pod  string
}

type snapshot struct {
	vnodes []vnode
	pods   map[string]int // pod -> capacity
}

// Ring is safe for concurrent use.
type Ring struct {
	cfg  Config
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// New creates an empty ring.
func New(cfg Config) *Ring {
	r := &Ring{cfg: cfg.withDefaults()}
	r.snap.Store(&snapshot{pods: map[string]int{}})
	return r
}

// Add inserts or resizes a pod. It reports whether membership or capacity changed.
func (r *Ring) Add(podID string, capacity int) bool {
	if podID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if c, ok := cur.pods[podID]; ok && c == capacity {
		return false
	}
	pods := clonePods(cur.pods)
	pods[podID] = capacity
	r.snap.Store(r.build(pods))
	return true
}

// Remove deletes a pod. It reports whether the pod was present.
func (r *Ring) Remove(podID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if _, ok := cur.pods[podID]; !ok {
		return false
	}
	pods := clonePods(cur.pods)
	delete(pods, podID)
	r.snap.Store(r.build(pods))
	return true
}

// Lookup returns the pod owning key: the first virtual node clockwise from
// the key's hash.
func (r *Ring) Lookup(key string) (string, bool) {
	s := r.snap.Load()
	if len(s.vnodes) == 0 {
		return "", false
	}
	return s.vnodes[s.search(HashKey(key))].pod, true
}

// LookupN returns up to n distinct pods in clockwise order from key. The
// first element equals Lookup(key).
func (r *Ring) LookupN(key string, n int) []string {
	s := r.snap.Load()
	if len(s.vnodes) == 0 || n <= 0 {
		return nil
	}
	if n > len(s.pods) {
		n = len(s.pods)
	}
	out := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	start := s.search(HashKey(key))
	for i := 0; i < len(s.vnodes) && len(out) < n; i++ {
		pod := s.vnodes[(start+i)%len(s.vnodes)].pod
		if _, ok := seen[pod]; ok {
			continue
		}
		seen[pod] = struct{}{}
		out = append(out, pod)
	}
	return out
}

// Pods returns the member pods sorted by ID.
func (r *Ring) Pods() []string {
	s := r.snap.Load()
	out := make([]string, 0, len(s.pods))
	for pod := range s.pods {
		out = append(out, pod)
	}
	sort.Strings(out)
	return out
}

// Capacity returns the declared capacity of a member pod.
func (r *Ring) Capacity(podID string) (int, bool) {
	c, ok := r.snap.Load().pods[podID]
	return c, ok
}

// Len is the number of member pods.
func (r *Ring) Len() int {
	return len(r.snap.Load().pods)
}

// HashKey is the ring position of an instrument key.
func HashKey(key string) uint64 {
	return xxhash.Sum64String(key)
}

func (r *Ring) build(pods map[string]int) *snapshot {
	total := 0
	for _, capacity := range pods {
		total += r.cfg.VNodes(capacity)
	}
	vnodes := make([]vnode, 0, total)
	for pod, capacity := range pods {
		n := r.cfg.VNodes(capacity)
		for i := 0; i < n; i++ {
			vnodes = append(vnodes, vnode{
				hash: xxhash.Sum64String(pod + "#" + strconv.Itoa(i)),
				pod:  pod,
			})
		}
	}
	sort.Slice(vnodes, func(i, j int) bool {
		if vnodes[i].hash != vnodes[j].hash {
			return vnodes[i].hash < vnodes[j].hash
		}
		return vnodes[i].pod < vnodes[j].pod
	})
	return &snapshot{vnodes: vnodes, pods: pods}
}

func (s *snapshot) search(h uint64) int {
	idx := sort.Search(len(s.vnodes), func(i int) bool {
		return s.vnodes[i].hash >= h
	})
	if idx == len(s.vnodes) {
		return 0
	}
	return idx
}

func clonePods(in map[string]int) map[string]int {
	out := make(map[string]int, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
