package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/CVDpl/go-live-geoip/internal/common"
	"github.com/CVDpl/go-live-geoip/pkg/geoip"
	"github.com/CVDpl/go-live-geoip/pkg/geoip/decoder"
	"github.com/CVDpl/go-live-geoip/pkg/geoip/monitoring"
)

type output struct {
	IP        string `json:"ip"`
	Network   string `json:"network,omitempty"`
	PrefixLen int    `json:"prefix_len"`
	Found     bool   `json:"found"`
	Value     any    `json:"value,omitempty"`
	Error     string `json:"error,omitempty"`
}

func main() {
	app := kingpin.New("geoiplookup", "Look up addresses in a geoip database.")
	app.Version(geoip.Version)
	file := app.Flag("file", "Database file.").Short('f').Required().ExistingFile()
	pathText := app.Flag("path", "Dotted path into the record, e.g. country.iso_code or subdivisions.0.names.en.").Short('p').String()
	cache := app.Flag("cache", "Record cache size.").Default("0").Int()
	metricsAddr := app.Flag("metrics-addr", "Serve /metrics and pprof on this address after the lookups until interrupted.").String()
	ips := app.Arg("ip", "Addresses to look up.").Required().Strings()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	path, err := decoder.ParsePath(*pathText)
	app.FatalIfError(err, "path")

	opts := geoip.DefaultOptions()
	opts.Logger = geoip.NewLogger(os.Stderr, common.LogLevelWarn)
	opts.CacheSize = *cache
	r, err := geoip.Open(*file, opts)
	app.FatalIfError(err, "open")
	defer r.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	failed := false
	for _, ip := range *ips {
		out := lookup(r, ip, path)
		if out.Error != "" {
			failed = true
		}
		if err := enc.Encode(out); err != nil {
			fmt.Fprintln(os.Stderr, "encode:", err)
			failed = true
		}
	}
	if *metricsAddr != "" {
		serveMetrics(r, *metricsAddr, opts.Logger)
	}
	if failed {
		r.Close()
		os.Exit(1)
	}
}

func serveMetrics(r *geoip.Reader, addr string, logger common.Logger) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(monitoring.NewCollector(r, prometheus.Labels{"database": r.Metadata().DatabaseType}))
	srv := monitoring.StartServer(addr, reg, logger)
	fmt.Fprintln(os.Stderr, "serving metrics on", addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := monitoring.StopServer(shutdown, srv); err != nil {
		logger.Error("metrics server shutdown", "error", err.Error())
	}
}

func lookup(r *geoip.Reader, ip string, path decoder.Path) output {
	out := output{IP: ip}
	res, err := r.LookupString(ip)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Found = res.Found
	out.PrefixLen = res.PrefixLen
	if res.Network.IsValid() {
		out.Network = res.Network.String()
	}
	if !res.Found {
		return out
	}

	if len(path) == 0 {
		if out.Value, err = res.Entry.Decode(); err != nil {
			out.Error = err.Error()
		}
		return out
	}

	v, found, err := res.Entry.Resolve(path)
	switch {
	case err != nil:
		out.Error = err.Error()
	case !found:
		out.Found = false
	case v.IsContainer():
		nodes, err := r.Decoder().Materialize(v.Offset)
		if err == nil {
			out.Value, err = decoder.Interface(nodes)
		}
		if err != nil {
			out.Error = err.Error()
		}
	default:
		out.Value = v.Interface()
	}
	return out
}
