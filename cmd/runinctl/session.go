package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/arloliu/go-runin/catalog"
	"github.com/arloliu/go-runin/internal/appconfig"
	"github.com/arloliu/go-runin/logger"
	"github.com/arloliu/go-runin/sequencer"
	"github.com/arloliu/go-runin/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "runin"

// session wires a transport, a sequencer and the catalog for one command.
type session struct {
	cfg     appconfig.Config
	log     logger.Logger
	catalog *catalog.Catalog
	tr      *transport.Transport
	seq     *sequencer.Sequencer
	builder *sequencer.Builder
	metrics *http.Server
}

func newSession(ctx context.Context, cfg appconfig.Config) (*session, error) {
	l := logger.GetLogger()

	connCfg, err := transport.NewConnectionConfig(
		transport.WithReadPollTimeout(cfg.ReadPollTimeout),
		transport.WithLogger(l.With("component", "transport")),
	)
	if err != nil {
		return nil, err
	}

	tr, err := transport.New(ctx, &transport.SerialOpener{PortName: cfg.Port}, connCfg)
	if err != nil {
		return nil, err
	}

	seq, err := sequencer.New(tr,
		sequencer.WithCommandDelay(cfg.CommandDelay),
		sequencer.WithLogger(l.With("component", "sequencer")),
	)
	if err != nil {
		return nil, err
	}

	cat := catalog.LoadOrEmpty(ctx, cfg.Catalog, catalog.WithLogger(l))

	s := &session{
		cfg:     cfg,
		log:     l,
		catalog: cat,
		tr:      tr,
		seq:     seq,
		builder: sequencer.NewBuilder(cat),
	}

	if cfg.MetricsAddr != "" {
		s.serveMetrics()
	}

	return s, nil
}

func (s *session) serveMetrics() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(s.tr.GetMetrics().Collectors(metricsNamespace)...)
	reg.MustRegister(s.seq.GetMetrics().Collectors(metricsNamespace)...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.metrics = &http.Server{
		Addr:              s.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.log.Info("runinctl: serving metrics", "addr", s.cfg.MetricsAddr)
		if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("runinctl: metrics server failed", "error", err)
		}
	}()
}

// connect opens the link and echoes device output to stdout.
func (s *session) connect(ctx context.Context) error {
	s.tr.AddHandlers(transport.Handlers{
		OnData: func(_ *transport.Transport, text string) {
			_, _ = os.Stdout.WriteString(text)
		},
	})

	return s.tr.Connect(ctx, s.cfg.Baud)
}

// linger keeps the link open for d so late device output is shown.
func (s *session) linger(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (s *session) close() {
	s.tr.Disconnect()

	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.metrics.Shutdown(ctx)
	}
}
