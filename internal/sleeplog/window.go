package sleeplog

import "github.com/hedzr/go-ringbuf/v2/mpmc"

// newWindow allocates a ring that can hold at least history readings. The ring
// rounds its size up to a power of two and keeps one slot free.
func newWindow(history int) mpmc.RichOverlappedRingBuffer[int] {
	return mpmc.NewOverlappedRingBuffer[int](uint32(history + 1))
}

// pushWindow adds a reading, overwriting the oldest one when the window is full.
func (s *Service) pushWindow(hr int) {
	s.windowMu.Lock()
	defer s.windowMu.Unlock()

	if _, err := s.window.EnqueueM(hr); err != nil {
		s.logger.WithError(err).Debug("Failed to buffer reading")
	}
}

// windowStats drains the ring to compute statistics, then refills it in order.
func (s *Service) windowStats() WindowStats {
	s.windowMu.Lock()
	defer s.windowMu.Unlock()

	var values []int
	for !s.window.IsEmpty() {
		v, err := s.window.Dequeue()
		if err != nil {
			break
		}
		values = append(values, v)
	}
	if len(values) > s.opts.History {
		values = values[len(values)-s.opts.History:]
	}
	for _, v := range values {
		_, _ = s.window.EnqueueM(v)
	}

	return summarize(values)
}

func summarize(values []int) WindowStats {
	if len(values) == 0 {
		return WindowStats{}
	}

	st := WindowStats{Count: len(values), Min: values[0], Max: values[0]}
	sum := 0
	for _, v := range values {
		sum += v
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
	}
	st.Mean = float64(sum) / float64(len(values))
	return st
}
