package main

import (
	"flag"
	"strings"
	"time"

	"github.com/clspio/clsp-go/internal/clsp/session"
)

const version = "0.1.0"

// stringSliceFlag collects repeated -stream flags into a slice, the same
// repeatable-flag shape the teacher's relay-destination flag used.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ",") }

func (s *stringSliceFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type harnessFlags struct {
	logLevel      string
	showVersion   bool
	streamConfig  string
	streams       stringSliceFlag
	metricsAddr   string
	enableMetrics bool
	connDelay     time.Duration
}

func parseFlags(args []string) (*harnessFlags, error) {
	fs := flag.NewFlagSet("clsp-harness", flag.ContinueOnError)
	f := &harnessFlags{}

	fs.StringVar(&f.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.BoolVar(&f.showVersion, "version", false, "print version and exit")
	fs.StringVar(&f.streamConfig, "stream-config", "", "path to a JSON file listing stream URLs; watched for live edits")
	fs.Var(&f.streams, "stream", "a clsp(s):// stream URL to play at startup (repeatable)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on; empty disables the metrics server")
	fs.BoolVar(&f.enableMetrics, "enable-metrics", false, "emit METRIC events for every session and back them with Prometheus counters")
	fs.DurationVar(&f.connDelay, "connection-change-play-delay", session.DefaultConnectionChangePlayDelay,
		"delay applied before restarting a session after an online signal")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}
