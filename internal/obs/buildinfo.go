package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smartwaste_build_info",
			Help: "Build information of the smartwaste binaries.",
		},
		[]string{"binary", "version"},
	)
)

// InitBuildInfo registers build_info once and sets it to 1 for this binary.
func InitBuildInfo(binary, version string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(binary, version).Set(1)
}
