package boot

import (
	"context"
	"errors"
	"net"
	"net/http"

	khttp "github.com/go-kratos/kratos/v2/transport/http"

	"github.com/go-lynx/plughost/log"
	"github.com/go-lynx/plughost/observability/metrics"
)

const metricsPath = "/metrics"

// metricsServer serves the host registry over a kratos HTTP server.
type metricsServer struct {
	srv *khttp.Server
	lis net.Listener
}

func newMetricsServer(addr string, handler http.Handler) (*metricsServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := khttp.NewServer(khttp.Listener(lis))
	srv.Handle(metricsPath, handler)
	return &metricsServer{srv: srv, lis: lis}, nil
}

// Addr is the address the server listens on.
func (s *metricsServer) Addr() string {
	return s.lis.Addr().String()
}

func (s *metricsServer) Stop(ctx context.Context) error {
	return s.srv.Stop(ctx)
}

// startMetricsServer serves /metrics when an address is configured.
func (app *Application) startMetricsServer(ctx context.Context) error {
	addr := app.bc.Plughost.Metrics.Addr
	if addr == "" {
		return nil
	}
	handler := metrics.Handler()
	if app.registry != metrics.Registry() {
		handler = metrics.HandlerFor(app.registry)
	}
	s, err := newMetricsServer(addr, handler)
	if err != nil {
		return err
	}
	app.server = s

	app.bg.Add(1)
	go func() {
		defer app.bg.Done()
		if err := s.srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server stopped: %v", err)
		}
	}()
	log.Infof("serving metrics on http://%s%s", s.Addr(), metricsPath)
	return nil
}

// MetricsAddr returns the address of the metrics server, empty when it is
// not running.
func (app *Application) MetricsAddr() string {
	if app.server == nil {
		return ""
	}
	return app.server.Addr()
}
