package broker

import (
	"errors"

	"github.com/heptiolabs/healthcheck"
)

// HealthHandler returns an HTTP handler exposing /live and /ready plus
// check metrics on the broker's prometheus registry. Mount it on any mux.
func (b *Broker) HealthHandler() healthcheck.Handler {
	h := healthcheck.NewMetricsHandler(b.conf.Registry, "floe_broker")
	h.AddLivenessCheck("control-channel", func() error {
		if !b.ch.Ready() {
			return errors.New("control channel is closed")
		}
		return nil
	})
	h.AddReadinessCheck("dispatch-pool", func() error {
		if b.pool.IsClosed() {
			return errors.New("dispatch pool is released")
		}
		return nil
	})
	return h
}
