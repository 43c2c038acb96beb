package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DecodeAccepted  = "accepted"
	DecodeBusy      = "busy"
	DecodeDuplicate = "duplicate"
	DecodeNoise     = "noise"
)

var (
	scanDecodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_decodes_total",
			Help: "Decode events seen by the scan coordinator",
		},
		[]string{"outcome"},
	)

	checkIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_checkins_total",
			Help: "Settled check-in attempts by resulting scan status",
		},
		[]string{"status"},
	)

	checkInDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scanner_checkin_duration_seconds",
			Help:    "Latency of remote check-in calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	cameraState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "camera_state",
			Help: "1 for the current capture state, 0 otherwise",
		},
		[]string{"state"},
	)

	frameErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "camera_frame_errors_total",
			Help: "Frames that could not be read from the capture stream",
		},
	)
)

// Monitor records station metrics on the default Prometheus registry.
type Monitor struct{}

func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) TrackDecode(outcome string) {
	scanDecodes.WithLabelValues(outcome).Inc()
}

func (m *Monitor) TrackCheckIn(status string, duration time.Duration) {
	checkIns.WithLabelValues(status).Inc()
	checkInDuration.Observe(duration.Seconds())
}

func (m *Monitor) TrackCameraState(state string, known []string) {
	for _, s := range known {
		v := 0.0
		if s == state {
			v = 1
		}
		cameraState.WithLabelValues(s).Set(v)
	}
}

func (m *Monitor) TrackFrameError() {
	frameErrors.Inc()
}
