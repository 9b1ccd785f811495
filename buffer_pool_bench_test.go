package usbbridge

import (
	"fmt"
	"testing"
)

func TestBufferPool(t *testing.T) {
	bp := NewBufferPool(MaxFrameSize)
	buf := bp.Get()
	if len(buf) != MaxFrameSize {
		t.Fatalf("expected %d bytes, got %d", MaxFrameSize, len(buf))
	}
	buf[0] = 0xFF
	bp.Put(buf[:10])
	bp.Put(make([]byte, 8))

	stats := bp.Stats()
	if stats.Gets != 1 || stats.Puts != 1 || stats.Creates != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if (PoolStats{}).HitRatio() != 0 {
		t.Fatal("empty pool hit ratio must be 0")
	}
}

func TestGetFrame(t *testing.T) {
	svc := startService(t, nil, newFakeHost(), &fakeContent{})

	frame, release := svc.getFrame([]byte("abc"))
	if string(frame) != "abc" {
		t.Fatalf("unexpected frame %q", frame)
	}
	release()

	big := make([]byte, MaxFrameSize+1)
	frame, release = svc.getFrame(big)
	if len(frame) != len(big) {
		t.Fatalf("oversized frame truncated to %d", len(frame))
	}
	release()

	m := svc.Metrics()
	if m.BufferPoolHits.Load() != 1 || m.BufferPoolMisses.Load() != 1 {
		t.Fatalf("hits=%d misses=%d", m.BufferPoolHits.Load(), m.BufferPoolMisses.Load())
	}
}

// BenchmarkFrameWithoutPooling tests traditional allocation approach
func BenchmarkFrameWithoutPooling(b *testing.B) {
	payload := make([]byte, MaxFrameSize)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := make([]byte, len(payload))
		copy(buf, payload)
	}
}

// BenchmarkFrameWithPooling measures the pooled copy used by the write path
func BenchmarkFrameWithPooling(b *testing.B) {
	svc, err := New(DefaultConfig(), newFakeHost(), &fakeContent{})
	if err != nil {
		b.Fatal(err)
	}
	payload := make([]byte, MaxFrameSize)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, release := svc.getFrame(payload)
		release()
	}
}

func BenchmarkBufferPoolSizes(b *testing.B) {
	for _, size := range []int{64, MaxFrameSize, 4096} {
		b.Run(fmt.Sprintf("size_%d", size), func(b *testing.B) {
			bp := NewBufferPool(size)
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				bp.Put(bp.Get())
			}
			b.ReportMetric(bp.Stats().HitRatio(), "hit_ratio")
		})
	}
}

func BenchmarkEncodePayload(b *testing.B) {
	payload := make([]byte, MaxFrameSize)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = EncodePayload(payload)
	}
}
