// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Payload metrics (only for annotator operations)
	TotalPromptBytes   int64
	TotalResponseBytes int64
	MinPromptBytes     int64
	MaxPromptBytes     int64
	MinResponseBytes   int64
	MaxResponseBytes   int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64

	// Payload stats (nil if not applicable)
	TotalPromptBytes   *int64
	TotalResponseBytes *int64
	AvgPromptBytes     *float64
	AvgResponseBytes   *float64
	MinPromptBytes     *int64
	MaxPromptBytes     *int64
	MinResponseBytes   *int64
	MaxResponseBytes   *int64
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Annotate      *OperationSnapshot
	StoreRead     *OperationSnapshot
	StoreWrite    *OperationSnapshot
}

// Operation names for the collector.
const (
	OpAnnotate   = "annotate"
	OpStoreRead  = "store_read"
	OpStoreWrite = "store_write"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime:          time.Duration(math.MaxInt64),
			MinPromptBytes:   math.MaxInt64,
			MinResponseBytes: math.MaxInt64,
		}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordAnnotatorUsage records timing and payload sizes for an annotator call.
func (c *Collector) RecordAnnotatorUsage(op string, duration time.Duration, promptBytes, responseBytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}

	m.TotalPromptBytes += promptBytes
	m.TotalResponseBytes += responseBytes

	if promptBytes < m.MinPromptBytes {
		m.MinPromptBytes = promptBytes
	}
	if promptBytes > m.MaxPromptBytes {
		m.MaxPromptBytes = promptBytes
	}
	if responseBytes < m.MinResponseBytes {
		m.MinResponseBytes = responseBytes
	}
	if responseBytes > m.MaxResponseBytes {
		m.MaxResponseBytes = responseBytes
	}
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includePayload bool) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if includePayload && (m.TotalPromptBytes > 0 || m.TotalResponseBytes > 0) {
		totalIn := m.TotalPromptBytes
		totalOut := m.TotalResponseBytes
		avgIn := float64(m.TotalPromptBytes) / float64(m.Count)
		avgOut := float64(m.TotalResponseBytes) / float64(m.Count)
		minIn := m.MinPromptBytes
		maxIn := m.MaxPromptBytes
		minOut := m.MinResponseBytes
		maxOut := m.MaxResponseBytes

		// Reset sentinel values for display
		if minIn == math.MaxInt64 {
			minIn = 0
		}
		if minOut == math.MaxInt64 {
			minOut = 0
		}

		snap.TotalPromptBytes = &totalIn
		snap.TotalResponseBytes = &totalOut
		snap.AvgPromptBytes = &avgIn
		snap.AvgResponseBytes = &avgOut
		snap.MinPromptBytes = &minIn
		snap.MaxPromptBytes = &maxIn
		snap.MinResponseBytes = &minOut
		snap.MaxResponseBytes = &maxOut
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Annotate:      snapshotOp(c.ops[OpAnnotate], true),
		StoreRead:     snapshotOp(c.ops[OpStoreRead], false),
		StoreWrite:    snapshotOp(c.ops[OpStoreWrite], false),
	}
}
