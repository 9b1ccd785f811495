package usbbridge

import (
	"time"
)

// readLoop continuously reads from the active port and forwards every
// non-empty read to the content layer as one frame.
func (s *Service) readLoop() {
	defer s.wg.Done()

	buf := s.frames.Get()
	defer s.frames.Put(buf)

	for {
		if s.shutdown.Load() {
			return
		}

		port := s.activePort()
		if port == nil || !port.IsOpen() {
			if !s.idle() {
				return
			}
			continue
		}

		start := time.Now()
		n, err := port.Read(buf, s.cfg.ReadTimeout)
		s.recordReadMetrics(n, err, time.Since(start))

		if s.shutdown.Load() {
			return
		}
		if err != nil {
			s.reportReadError(port, err)
			if !s.idle() {
				return
			}
			continue
		}
		if n <= 0 {
			continue
		}

		s.metrics.FramesForwarded.Add(1)
		s.bridge.PushData(buf[:n])
	}
}

// idle waits one poll interval. It returns false when the Service is
// shutting down.
func (s *Service) idle() bool {
	t := time.NewTimer(s.cfg.IdlePoll)
	defer t.Stop()
	select {
	case <-s.done:
		return false
	case <-t.C:
		return true
	}
}

// reportReadError logs a read failure unless the port was closed or
// replaced while the read was in flight.
func (s *Service) reportReadError(port Port, err error) {
	if !s.isCurrent(port) {
		s.logger.Debug().Err(err).Msg("read error on stale port ignored")
		return
	}
	if !s.readErrLimiter.Allow() {
		return
	}
	s.logger.Error().Err(err).Msg("USB read failed")
	s.bridge.PushStatus("Read error: " + err.Error())
}
