// Command clsp-harness runs CLSP sessions outside of a browser host: a
// smoke-test / load-generation rig for exercising the session core against
// a live SFS without a DOM. Streams come from repeated -stream flags and/or
// a JSON file watched for live edits via -stream-config.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clspio/clsp-go/internal/clsp/registry"
	"github.com/clspio/clsp-go/internal/logger"
	"github.com/clspio/clsp-go/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if f.showVersion {
		fmt.Println("clsp-harness " + version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(f.logLevel); err != nil {
		logger.Warn("invalid -log-level, keeping default", "error", err)
	}
	log := logger.Logger()

	reg := registry.AsSingleton()
	h := newHarness(reg, log, f.enableMetrics, f.connDelay)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, raw := range f.streams {
		if err := h.addStream(raw); err != nil {
			log.Error("failed to add stream", "url", raw, "error", err)
		}
	}

	if f.streamConfig != "" {
		stopWatch, err := watchStreamConfig(ctx, f.streamConfig, h, log)
		if err != nil {
			log.Error("failed to watch stream config", "path", f.streamConfig, "error", err)
		} else {
			defer stopWatch()
		}
	}

	var metricsSrv *http.Server
	if f.metricsAddr != "" {
		metricsSrv = &http.Server{Addr: f.metricsAddr, Handler: metrics.Handler()}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err)
			}
		}()
		log.Info("metrics server listening", "addr", f.metricsAddr)
	}

	log.Info("clsp-harness running", "streams", h.streamCount())
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := reg.Destroy(); err != nil {
		log.Warn("registry destroy failed during shutdown", "error", err)
	}
}
