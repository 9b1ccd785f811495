package usbbridge

import (
	"sync/atomic"
	"time"
)

// Metrics tracks bridge health statistics.
type Metrics struct {
	// Connection Statistics
	ConnectionAttempts  atomic.Int64 // Total connect attempts
	SuccessfulConnects  atomic.Int64 // Attempts that reached Active
	ConnectionFailures  atomic.Int64 // Attempts that fell back to Disconnected
	Disconnections      atomic.Int64 // Active -> Disconnected transitions
	PermissionRequests  atomic.Int64 // Requests issued by the gate
	LastConnectTime     atomic.Int64 // Unix timestamp of last connect
	LastDisconnectTime  atomic.Int64 // Unix timestamp of last disconnect
	TotalUptime         atomic.Int64 // Total connected time in nanoseconds
	ConnectionStartTime atomic.Int64 // When current connection started

	// Read Loop
	ReadOperations  atomic.Int64 // Reads issued on an open port
	FramesForwarded atomic.Int64 // Non-empty reads pushed to the content layer
	ReadTimeouts    atomic.Int64 // Reads that returned no data
	ReadErrors      atomic.Int64 // Reads that failed
	BytesRead       atomic.Int64
	MaxReadTime     atomic.Int64 // Slowest read operation (ns)

	// Write Path
	WriteOperations  atomic.Int64 // Frames written
	SuccessfulWrites atomic.Int64
	WriteTimeouts    atomic.Int64
	WriteErrors      atomic.Int64
	WritesRejected   atomic.Int64 // Not connected or queue full
	BytesWritten     atomic.Int64
	MaxWriteTime     atomic.Int64 // Slowest write operation (ns)

	// Bridge
	NotificationsDropped atomic.Int64

	// Buffer Pool Metrics
	BufferPoolHits   atomic.Int64
	BufferPoolMisses atomic.Int64

	// Health Indicators
	ConsecutiveFailures atomic.Int64
	LastErrorTime       atomic.Int64
}

// HealthStatus represents the overall health of the bridge.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDown      HealthStatus = "down"
)

// MetricsSnapshot is a point-in-time, serialisable view of Metrics.
type MetricsSnapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	State        string    `json:"state"`
	IsConnected  bool      `json:"isConnected"`
	HealthStatus string    `json:"healthStatus"`
	HealthScore  float64   `json:"healthScore"`

	ConnectionSuccess float64 `json:"connectionSuccess"`
	UptimeSeconds     float64 `json:"uptimeSeconds"`
	ErrorRate         float64 `json:"errorRate"`
	TimeoutRate       float64 `json:"timeoutRate"`

	ConnectionAttempts   int64 `json:"connectionAttempts"`
	PermissionRequests   int64 `json:"permissionRequests"`
	TotalReads           int64 `json:"totalReads"`
	FramesForwarded      int64 `json:"framesForwarded"`
	TotalWrites          int64 `json:"totalWrites"`
	TotalBytesRead       int64 `json:"totalBytesRead"`
	TotalBytesWritten    int64 `json:"totalBytesWritten"`
	TotalErrors          int64 `json:"totalErrors"`
	TotalTimeouts        int64 `json:"totalWriteTimeouts"`
	WritesRejected       int64 `json:"writesRejected"`
	NotificationsDropped int64 `json:"notificationsDropped"`
	ConsecutiveFailures  int64 `json:"consecutiveFailures"`

	MaxReadLatency  time.Duration `json:"maxReadLatency"`
	MaxWriteLatency time.Duration `json:"maxWriteLatency"`

	// Frame buffer pool efficiency
	BufferPoolHits     int64     `json:"bufferPoolHits"`
	BufferPoolMisses   int64     `json:"bufferPoolMisses"`
	BufferPool         PoolStats `json:"bufferPool"`
	BufferPoolHitRatio float64   `json:"bufferPoolHitRatio"`
}

func (m *Metrics) calculateConnectionSuccessRate() float64 {
	attempts := m.ConnectionAttempts.Load()
	if attempts == 0 {
		return 100.0
	}
	return float64(m.SuccessfulConnects.Load()) / float64(attempts) * 100
}

// calculateErrorRate is the share of failed I/O operations in percent.
// Read timeouts are idle reads, not failures.
func (m *Metrics) calculateErrorRate() float64 {
	ops := m.ReadOperations.Load() + m.WriteOperations.Load()
	if ops == 0 {
		return 0.0
	}
	errs := m.ReadErrors.Load() + m.WriteErrors.Load() + m.WriteTimeouts.Load()
	return float64(errs) / float64(ops) * 100
}

func (m *Metrics) calculateTimeoutRate() float64 {
	writes := m.WriteOperations.Load()
	if writes == 0 {
		return 0.0
	}
	return float64(m.WriteTimeouts.Load()) / float64(writes) * 100
}

func (m *Metrics) calculateUptime(isConnected bool, connectionStartTime int64) float64 {
	if !isConnected || connectionStartTime == 0 {
		return 0.0
	}
	duration := time.Now().UnixNano() - connectionStartTime
	if duration <= 0 {
		return 0.0
	}
	return float64(duration) / float64(time.Second)
}

func (m *Metrics) assessHealthStatus(snapshot *MetricsSnapshot) HealthStatus {
	if !snapshot.IsConnected {
		return HealthStatusDown
	}
	if snapshot.ErrorRate > 50.0 || snapshot.ConsecutiveFailures > 5 {
		return HealthStatusUnhealthy
	}
	if snapshot.ErrorRate > 10.0 || snapshot.TimeoutRate > 20.0 || snapshot.ConsecutiveFailures > 3 {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}

func (m *Metrics) calculateHealthScore(snapshot *MetricsSnapshot) float64 {
	if !snapshot.IsConnected {
		return 0.0
	}
	score := 100.0
	score -= snapshot.ErrorRate * 2
	score -= snapshot.TimeoutRate
	score -= float64(snapshot.ConsecutiveFailures) * 10
	if score < 0 {
		score = 0
	}
	return score
}

func storeMax(v *atomic.Int64, d time.Duration) {
	for {
		current := v.Load()
		if d.Nanoseconds() <= current {
			return
		}
		if v.CompareAndSwap(current, d.Nanoseconds()) {
			return
		}
	}
}
