package usbbridge

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// ----- Core Metrics Tests -----

func TestMetrics_Initialization(t *testing.T) {
	svc := startService(t, nil, newFakeHost(), &fakeContent{})

	if svc.Metrics() == nil {
		t.Fatal("Metrics not initialized")
	}
	s := svc.MetricsSnapshot()
	if s.IsConnected || s.State != StateDisconnected.String() {
		t.Fatalf("unexpected initial snapshot %+v", s)
	}
	if s.HealthStatus != string(HealthStatusDown) || s.HealthScore != 0 {
		t.Fatalf("disconnected bridge must be down, got %s/%v", s.HealthStatus, s.HealthScore)
	}
	if s.ConnectionSuccess != 100.0 {
		t.Fatalf("no attempts should report 100%% success, got %v", s.ConnectionSuccess)
	}
}

func TestMetrics_ConnectionTracking(t *testing.T) {
	svc, host, _ := connected(t)

	m := svc.Metrics()
	if m.ConnectionAttempts.Load() != 1 || m.SuccessfulConnects.Load() != 1 {
		t.Fatalf("attempts=%d successes=%d", m.ConnectionAttempts.Load(), m.SuccessfulConnects.Load())
	}
	if m.ConnectionStartTime.Load() == 0 || m.LastConnectTime.Load() == 0 {
		t.Fatal("connect timestamps not recorded")
	}

	time.Sleep(10 * time.Millisecond)
	if s := svc.MetricsSnapshot(); s.UptimeSeconds <= 0 || s.HealthStatus != string(HealthStatusHealthy) {
		t.Fatalf("unexpected snapshot %+v", s)
	}

	svc.DeviceDetached(testDevice)
	waitFor(t, "disconnect", func() bool { return !svc.IsConnected() })
	if m.Disconnections.Load() != 1 || m.TotalUptime.Load() <= 0 {
		t.Fatalf("disconnections=%d uptime=%d", m.Disconnections.Load(), m.TotalUptime.Load())
	}
	if m.ConnectionStartTime.Load() != 0 {
		t.Fatal("start time must be cleared")
	}

	host.setDevices()
	if err := svc.Connect(testContext(t)); err == nil {
		t.Fatal("expected connect failure without a device")
	}
	if s := svc.MetricsSnapshot(); s.ConnectionSuccess != 50.0 {
		t.Fatalf("expected 50%% success, got %v", s.ConnectionSuccess)
	}
}

func TestMetrics_ReadTracking(t *testing.T) {
	svc, host, _ := connected(t)
	host.port().reads <- readResult{data: []byte("abcd")}

	waitFor(t, "forwarded frame", func() bool { return svc.Metrics().FramesForwarded.Load() == 1 })
	m := svc.Metrics()
	if m.BytesRead.Load() != 4 {
		t.Fatalf("expected 4 bytes read, got %d", m.BytesRead.Load())
	}
	waitFor(t, "idle read", func() bool { return m.ReadTimeouts.Load() > 0 })
	if m.ReadErrors.Load() != 0 {
		t.Fatalf("timeouts are not errors, got %d", m.ReadErrors.Load())
	}
}

func TestMetrics_WritePoolUsage(t *testing.T) {
	svc, _, _ := connected(t)
	if _, err := svc.Send(testContext(t), []byte("frame")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	m := svc.Metrics()
	if m.BufferPoolHits.Load() != 1 || m.BufferPoolMisses.Load() != 0 {
		t.Fatalf("hits=%d misses=%d", m.BufferPoolHits.Load(), m.BufferPoolMisses.Load())
	}
	if m.SuccessfulWrites.Load() != 1 || m.MaxWriteTime.Load() <= 0 {
		t.Fatalf("write not recorded: %d, %d", m.SuccessfulWrites.Load(), m.MaxWriteTime.Load())
	}

	// The frame buffer went back to the pool, so the next one is reused.
	if _, err := svc.Send(testContext(t), []byte("again")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	snap := svc.MetricsSnapshot()
	if snap.BufferPoolHits != 2 || snap.BufferPoolMisses != 0 {
		t.Fatalf("snapshot hits=%d misses=%d", snap.BufferPoolHits, snap.BufferPoolMisses)
	}
	if snap.BufferPool.Size != MaxFrameSize || snap.BufferPool.Gets < 2 || snap.BufferPool.Puts < 2 {
		t.Fatalf("unexpected pool stats %+v", snap.BufferPool)
	}
	if snap.BufferPoolHitRatio != snap.BufferPool.HitRatio() || snap.BufferPoolHitRatio < 0 || snap.BufferPoolHitRatio > 1 {
		t.Fatalf("hit ratio %v out of range", snap.BufferPoolHitRatio)
	}
}

// ----- Calculation Tests -----

func TestMetrics_ErrorAndTimeoutRates(t *testing.T) {
	m := &Metrics{}
	if m.calculateErrorRate() != 0 || m.calculateTimeoutRate() != 0 {
		t.Fatal("rates must be zero without operations")
	}

	m.ReadOperations.Store(6)
	m.ReadTimeouts.Store(3)
	m.WriteOperations.Store(4)
	m.WriteTimeouts.Store(1)
	m.WriteErrors.Store(1)

	if got := m.calculateErrorRate(); got != 20.0 {
		t.Fatalf("error rate = %v, want 20", got)
	}
	if got := m.calculateTimeoutRate(); got != 25.0 {
		t.Fatalf("timeout rate = %v, want 25", got)
	}
}

func TestMetrics_HealthAssessment(t *testing.T) {
	m := &Metrics{}
	tests := []struct {
		name  string
		snap  MetricsSnapshot
		want  HealthStatus
		score float64
	}{
		{"down", MetricsSnapshot{}, HealthStatusDown, 0},
		{"healthy", MetricsSnapshot{IsConnected: true}, HealthStatusHealthy, 100},
		{"degraded by errors", MetricsSnapshot{IsConnected: true, ErrorRate: 15}, HealthStatusDegraded, 70},
		{"degraded by timeouts", MetricsSnapshot{IsConnected: true, TimeoutRate: 25}, HealthStatusDegraded, 75},
		{"unhealthy", MetricsSnapshot{IsConnected: true, ConsecutiveFailures: 6}, HealthStatusUnhealthy, 40},
		{"floor", MetricsSnapshot{IsConnected: true, ErrorRate: 80}, HealthStatusUnhealthy, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.assessHealthStatus(&tt.snap); got != tt.want {
				t.Fatalf("status = %s, want %s", got, tt.want)
			}
			if got := m.calculateHealthScore(&tt.snap); got != tt.score {
				t.Fatalf("score = %v, want %v", got, tt.score)
			}
		})
	}
}

func TestMetrics_RecordWriteFailures(t *testing.T) {
	svc := startService(t, nil, newFakeHost(), &fakeContent{})
	m := svc.Metrics()

	svc.recordWriteMetrics(0, ErrWriteTimeout, 3*time.Millisecond)
	svc.recordWriteMetrics(0, errors.New("EIO"), time.Millisecond)
	if m.WriteTimeouts.Load() != 1 || m.WriteErrors.Load() != 1 {
		t.Fatalf("timeouts=%d errors=%d", m.WriteTimeouts.Load(), m.WriteErrors.Load())
	}
	if m.ConsecutiveFailures.Load() != 2 || m.LastErrorTime.Load() == 0 {
		t.Fatal("failure streak not tracked")
	}
	if m.MaxWriteTime.Load() != (3 * time.Millisecond).Nanoseconds() {
		t.Fatalf("max write time = %d", m.MaxWriteTime.Load())
	}

	svc.recordWriteMetrics(8, nil, time.Millisecond)
	if m.ConsecutiveFailures.Load() != 0 || m.BytesWritten.Load() != 8 {
		t.Fatal("success must reset the failure streak")
	}
}

// ----- Concurrency Tests -----

func TestMetrics_ConcurrentMax(t *testing.T) {
	m := &Metrics{}
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(d time.Duration) {
			defer wg.Done()
			storeMax(&m.MaxReadTime, d)
		}(time.Duration(i) * time.Microsecond)
	}
	wg.Wait()
	if got := time.Duration(m.MaxReadTime.Load()); got != 50*time.Microsecond {
		t.Fatalf("max = %v, want 50µs", got)
	}
}
