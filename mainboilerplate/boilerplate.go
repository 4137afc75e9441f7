// Package mainboilerplate contains shared boilerplate for this project's
// programs. The idea is to provide a selection of narrowly scoped methods
// so callers do not have to buy-in to an all-or-nothing approach.
package mainboilerplate

import (
	"net/http"
	_ "net/http/pprof" // Serve /debug/pprof handlers.

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Must panics if |err| is non-nil, supplying |msg| and |extra| fields to
// the logged panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}

	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Panic(msg)
}

// DiagnosticsConfig configures serving of program diagnostics.
type DiagnosticsConfig struct {
	Port string `long:"port" env:"PORT" default:"" description:"Port for diagnostics and metrics HTTP server (eg, :8080). Disabled if empty"`
}

// InitDiagnostics serves prometheus metrics and pprof profiles over HTTP,
// if a port is configured.
func InitDiagnostics(cfg DiagnosticsConfig) {
	if cfg.Port == "" {
		return
	}
	http.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(cfg.Port, nil); err != nil {
			log.WithFields(log.Fields{"err": err, "port": cfg.Port}).
				Error("failed to serve diagnostics")
		}
	}()
}
