package usbbridge

import (
	"errors"
	"time"
)

// Metrics returns the live counters.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// MetricsSnapshot creates a snapshot for the content layer and the
// /metrics endpoint.
func (s *Service) MetricsSnapshot() *MetricsSnapshot {
	m := s.metrics
	isConnected := s.IsConnected()
	start := m.ConnectionStartTime.Load()

	snapshot := &MetricsSnapshot{
		Timestamp:   time.Now(),
		State:       s.State().String(),
		IsConnected: isConnected,
	}

	snapshot.ConnectionSuccess = m.calculateConnectionSuccessRate()
	snapshot.UptimeSeconds = m.calculateUptime(isConnected, start)
	snapshot.ErrorRate = m.calculateErrorRate()
	snapshot.TimeoutRate = m.calculateTimeoutRate()

	snapshot.ConnectionAttempts = m.ConnectionAttempts.Load()
	snapshot.PermissionRequests = m.PermissionRequests.Load()
	snapshot.TotalReads = m.ReadOperations.Load()
	snapshot.FramesForwarded = m.FramesForwarded.Load()
	snapshot.TotalWrites = m.WriteOperations.Load()
	snapshot.TotalBytesRead = m.BytesRead.Load()
	snapshot.TotalBytesWritten = m.BytesWritten.Load()
	snapshot.TotalErrors = m.ReadErrors.Load() + m.WriteErrors.Load()
	snapshot.TotalTimeouts = m.WriteTimeouts.Load()
	snapshot.WritesRejected = m.WritesRejected.Load()
	snapshot.NotificationsDropped = m.NotificationsDropped.Load()
	snapshot.ConsecutiveFailures = m.ConsecutiveFailures.Load()
	snapshot.MaxReadLatency = time.Duration(m.MaxReadTime.Load())
	snapshot.MaxWriteLatency = time.Duration(m.MaxWriteTime.Load())

	snapshot.BufferPoolHits = m.BufferPoolHits.Load()
	snapshot.BufferPoolMisses = m.BufferPoolMisses.Load()
	snapshot.BufferPool = s.frames.Stats()
	snapshot.BufferPoolHitRatio = snapshot.BufferPool.HitRatio()

	health := m.assessHealthStatus(snapshot)
	snapshot.HealthStatus = string(health)
	snapshot.HealthScore = m.calculateHealthScore(snapshot)

	return snapshot
}

func (s *Service) recordConnect() {
	now := time.Now()
	s.metrics.SuccessfulConnects.Add(1)
	s.metrics.LastConnectTime.Store(now.Unix())
	s.metrics.ConnectionStartTime.Store(now.UnixNano())
	s.metrics.ConsecutiveFailures.Store(0)
}

func (s *Service) recordDisconnect() {
	if start := s.metrics.ConnectionStartTime.Swap(0); start > 0 {
		s.metrics.TotalUptime.Add(time.Now().UnixNano() - start)
	}
	s.metrics.Disconnections.Add(1)
	s.metrics.LastDisconnectTime.Store(time.Now().Unix())
}

func (s *Service) recordWriteMetrics(n int, err error, d time.Duration) {
	m := s.metrics
	m.WriteOperations.Add(1)
	storeMax(&m.MaxWriteTime, d)

	if err != nil {
		if errors.Is(err, ErrWriteTimeout) {
			m.WriteTimeouts.Add(1)
		} else {
			m.WriteErrors.Add(1)
		}
		m.ConsecutiveFailures.Add(1)
		m.LastErrorTime.Store(time.Now().Unix())
		return
	}
	m.SuccessfulWrites.Add(1)
	m.BytesWritten.Add(int64(n))
	m.ConsecutiveFailures.Store(0)
}

func (s *Service) recordReadMetrics(n int, err error, d time.Duration) {
	m := s.metrics
	m.ReadOperations.Add(1)
	storeMax(&m.MaxReadTime, d)

	switch {
	case err != nil:
		m.ReadErrors.Add(1)
		m.ConsecutiveFailures.Add(1)
		m.LastErrorTime.Store(time.Now().Unix())
	case n == 0:
		m.ReadTimeouts.Add(1)
	default:
		m.BytesRead.Add(int64(n))
		m.ConsecutiveFailures.Store(0)
	}
}
