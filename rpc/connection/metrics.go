package connection

import (
	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// process wide counters, exported by metrics.WritePrometheus
var (
	acquiresTotal   = metrics.GetOrCreateCounter(`dconn_pool_acquires_total`)
	releasesTotal   = metrics.GetOrCreateCounter(`dconn_pool_releases_total`)
	timeoutsTotal   = metrics.GetOrCreateCounter(`dconn_pool_reservation_timeouts_total`)
	faultsTotal     = metrics.GetOrCreateCounter(`dconn_pool_faults_total`)
	acquireDuration = metrics.GetOrCreateHistogram(`dconn_pool_acquire_duration_seconds`)
)

// poolMetrics is the registry of a single pool
type poolMetrics struct {
	registry    gometrics.Registry
	acquireWait gometrics.Timer
	timeouts    gometrics.Counter
	faults      gometrics.Counter
}

func newPoolMetrics(p *Pool) *poolMetrics {
	m := &poolMetrics{
		registry:    gometrics.NewRegistry(),
		acquireWait: gometrics.NewTimer(),
		timeouts:    gometrics.NewCounter(),
		faults:      gometrics.NewCounter(),
	}

	register := func(name string, metric interface{}) {
		if err := m.registry.Register(name, metric); err != nil {
			PoolLogger.Warningf("Failed to register metric %s of pool %s: %v", name, p.name, err)
		}
	}
	register("acquire.wait", m.acquireWait)
	register("acquire.timeouts", m.timeouts)
	register("faults", m.faults)
	register("available", gometrics.NewFunctionalGauge(func() int64 {
		return int64(len(p.available))
	}))
	register("bound", gometrics.NewFunctionalGauge(func() int64 {
		return int64(p.reserved.Size())
	}))
	register("waiting", gometrics.NewFunctionalGauge(func() int64 {
		return p.waiting.Load()
	}))
	return m
}
