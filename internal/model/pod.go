package model

import "time"

// PodInfo is a pod's entry in the shared registry.
type PodInfo struct {
	ID            string               `json:"id"`
	Capacity      int                  `json:"capacity"`
	RegisteredAt  time.Time            `json:"registered_at"`
	LastHeartbeat time.Time            `json:"last_heartbeat"`
	Metrics       BackpressureSnapshot `json:"metrics"`
}

// Alive reports whether the pod heartbeated within ttl of now.
func (p PodInfo) Alive(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return true
	}
	return now.Sub(p.LastHeartbeat) <= ttl
}

// BackpressureSnapshot is one pod's point-in-time load sample.
type BackpressureSnapshot struct {
	PodID           string        `json:"pod_id"`
	QueueDepth      int           `json:"queue_depth"`
	QueueGrowthRate float64       `json:"queue_growth_rate"` // tasks per second
	P50Latency      time.Duration `json:"p50_latency"`
	P99Latency      time.Duration `json:"p99_latency"`
	ErrorRate       float64       `json:"error_rate"`
	CPUUsage        float64       `json:"cpu_usage"`    // 0..1
	MemoryUsage     float64       `json:"memory_usage"` // 0..1
	Timestamp       time.Time     `json:"timestamp"`
}
