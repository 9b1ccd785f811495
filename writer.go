package usbbridge

import (
	"context"
	"fmt"
	"time"
)

// writeOperation is one queued payload, already split into frames.
type writeOperation struct {
	frames   [][]byte
	release  []func()
	ctx      context.Context
	resultCh chan writeResult
}

// writeResult holds the outcome of a write operation.
type writeResult struct {
	n   int
	err error
}

func (op *writeOperation) finish(res writeResult) {
	for _, r := range op.release {
		r()
	}
	op.release = nil
	select {
	case op.resultCh <- res:
	default:
	}
	close(op.resultCh)
}

// Write queues payload for the device and returns immediately. Failures are
// reported through the status text and the log, never to the caller.
func (s *Service) Write(payload []byte) {
	_, _ = s.enqueueWrite(context.Background(), payload)
}

// Send queues payload and waits for it to be written.
func (s *Service) Send(ctx context.Context, payload []byte) (int, error) {
	resultCh, err := s.enqueueWrite(ctx, payload)
	if err != nil {
		return 0, err
	}
	select {
	case res, ok := <-resultCh:
		if !ok {
			return 0, ErrClosed
		}
		return res.n, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.done:
		return 0, ErrClosed
	}
}

func (s *Service) enqueueWrite(ctx context.Context, payload []byte) (<-chan writeResult, error) {
	if s.shutdown.Load() {
		return nil, ErrClosed
	}
	if !s.IsConnected() {
		s.rejectWrite(len(payload))
		return nil, ErrNotConnected
	}

	op := &writeOperation{
		ctx:      ctx,
		resultCh: make(chan writeResult, 1),
	}
	if len(payload) == 0 {
		op.finish(writeResult{})
		return op.resultCh, nil
	}

	size := s.cfg.MaxFrameSize
	for off := 0; off < len(payload); off += size {
		end := min(off+size, len(payload))
		frame, release := s.getFrame(payload[off:end])
		op.frames = append(op.frames, frame)
		op.release = append(op.release, release)
	}

	select {
	case s.writeQueue <- op:
		return op.resultCh, nil
	case <-s.done:
		op.finish(writeResult{0, ErrClosed})
		return nil, ErrClosed
	default:
		op.finish(writeResult{0, ErrWriteQueueFull})
		s.metrics.WritesRejected.Add(1)
		s.logger.Warn().Int("bytes", len(payload)).Msg("write queue full, payload dropped")
		s.bridge.PushStatus("Write queue full")
		return nil, ErrWriteQueueFull
	}
}

func (s *Service) rejectWrite(size int) {
	s.metrics.WritesRejected.Add(1)
	s.logger.Warn().Int("bytes", size).Msg("write while not connected")
	s.bridge.PushStatus(StatusNotConnected)
}

// processWrites handles all write operations in a single goroutine.
func (s *Service) processWrites() {
	defer s.wg.Done()
	defer s.drainPendingOperations()

	for {
		select {
		case op := <-s.writeQueue:
			if s.shutdown.Load() {
				op.finish(writeResult{0, ErrClosed})
				continue
			}
			s.executeWrite(op)
		case <-s.done:
			return
		}
	}
}

// drainPendingOperations fails every queued operation after shutdown.
func (s *Service) drainPendingOperations() {
	for {
		select {
		case op := <-s.writeQueue:
			op.finish(writeResult{0, ErrClosed})
		default:
			return
		}
	}
}

// executeWrite writes the frames of op in order and stops at the first
// failure. The connection state is left alone on error.
func (s *Service) executeWrite(op *writeOperation) {
	select {
	case <-op.ctx.Done():
		op.finish(writeResult{0, op.ctx.Err()})
		return
	default:
	}

	var total int
	for _, frame := range op.frames {
		n, err := s.writeFrame(frame)
		total += n
		if err != nil {
			s.logger.Error().Err(err).Int("written", total).Msg("USB write failed")
			s.bridge.PushStatus("Write failed: " + err.Error())
			op.finish(writeResult{total, err})
			return
		}
	}
	op.finish(writeResult{total, nil})
}

func (s *Service) writeFrame(frame []byte) (int, error) {
	port := s.activePort()
	if port == nil || !port.IsOpen() {
		return 0, ErrNotConnected
	}

	start := time.Now()
	n, err := port.Write(frame, s.cfg.WriteTimeout)
	if err == nil && n < len(frame) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(frame))
	}
	s.recordWriteMetrics(n, err, time.Since(start))
	return n, err
}
