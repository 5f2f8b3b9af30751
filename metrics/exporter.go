package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var log = logging.Logger("metrics")

// Server owns the meter provider and the HTTP endpoint that exposes its
// instruments in Prometheus exposition format. The daemon constructs one
// Server, hands its Metrics to every collaborator, and shuts it down on
// exit.
type Server struct {
	Metrics *Metrics

	provider *sdkmetric.MeterProvider
	httpSrv  *http.Server
}

// NewServer builds the Prometheus exporter, a meter provider reading from
// it, and the Metrics instrument set, then starts serving /metrics on
// listenAddr. An empty listenAddr builds everything but serves nothing,
// for tests that want live instruments without a port.
func NewServer(listenAddr string) (*Server, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, errors.Wrap(err, "metrics: failed to create prometheus exporter")
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	m, err := New(provider.Meter("dhtcore"))
	if err != nil {
		return nil, errors.Wrap(err, "metrics: failed to register instruments")
	}

	s := &Server{Metrics: m, provider: provider}
	if listenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		s.httpSrv = &http.Server{Addr: listenAddr, Handler: mux}
		go func() {
			if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("metrics server stopped", "err", err)
			}
		}()
	}
	return s, nil
}

// Close stops the HTTP endpoint and flushes the meter provider.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	if err := s.provider.Shutdown(ctx); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	return errs
}
