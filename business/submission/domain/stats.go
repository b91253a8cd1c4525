package domain

import "time"

// latencySpan is the smoothing span of the latency moving average; the newest
// sample carries 1/latencySpan of the weight.
const latencySpan = 5

// RelayStats summarises one relay's submission history.
type RelayStats struct {
	Relay     string        `json:"relay"`
	Submitted int           `json:"submitted"`
	Accepted  int           `json:"accepted"`
	Rejected  int           `json:"rejected"`
	Failed    int           `json:"failed"`
	Latency   time.Duration `json:"latency"` // exponential moving average
	LastError string        `json:"last_error,omitempty"`
}

// Observe folds one request into the stats.
func (s *RelayStats) Observe(latency time.Duration, accepted, rejected bool, err error) {
	s.Submitted++
	switch {
	case accepted:
		s.Accepted++
	case rejected:
		s.Rejected++
	default:
		s.Failed++
	}
	if err != nil {
		s.LastError = err.Error()
	}
	if s.Submitted == 1 {
		s.Latency = latency
		return
	}
	s.Latency = (latency + (latencySpan-1)*s.Latency) / latencySpan
}

// AcceptRate is the fraction of requests the relay accepted.
func (s RelayStats) AcceptRate() float64 {
	if s.Submitted == 0 {
		return 0
	}
	return float64(s.Accepted) / float64(s.Submitted)
}

// BundleStats is a relay's view of a submitted bundle.
type BundleStats struct {
	IsSimulated    bool      `json:"is_simulated"`
	IsHighPriority bool      `json:"is_high_priority"`
	SimulatedAt    time.Time `json:"simulated_at,omitzero"`
	ReceivedAt     time.Time `json:"received_at,omitzero"`
	SentToBuilders int       `json:"sent_to_builders"`
}
