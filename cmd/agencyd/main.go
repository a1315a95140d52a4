// Command agencyd is a thin launcher that wires an Agency to an
// in-memory broker and an embedded Badger-backed database connection,
// grounded on cellorg/cmd/orchestrator/main.go's config-load-then-wire
// shape.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/corvid-systems/agency/internal/broker"
	"github.com/corvid-systems/agency/internal/config"
	"github.com/corvid-systems/agency/internal/database"
	"github.com/corvid-systems/agency/public/agency"
)

func main() {
	configFlag := flag.String("config", "", "path to agency.yaml")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())

	cfg := config.Defaults()
	if path := config.Resolve(*configFlag); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			log.WithError(err).Fatal("loading config")
		}
		cfg = loaded
	}
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	var driver database.Driver
	if cfg.Database.InMemory {
		d, err := database.OpenInMemoryBadgerDriver()
		if err != nil {
			log.WithError(err).Fatal("opening in-memory database")
		}
		driver = d
	} else {
		d, err := database.NewBadgerDriver(cfg.Database.Dir)
		if err != nil {
			log.WithError(err).Fatal("opening database")
		}
		driver = d
	}

	db, err := database.NewConnection(driver, cfg.KnownRevisionsCapacity, log)
	if err != nil {
		log.WithError(err).Fatal("building database connection")
	}
	_ = db // handed to individual agents' Initiate hooks by the embedding application

	reg := prometheus.NewRegistry()
	br := broker.NewInMemory(log)

	ag, err := agency.New(agency.Options{
		Broker:       br,
		Reg:          reg,
		DefaultShard: cfg.Broker.Shard,
		Log:          log,
	})
	if err != nil {
		log.WithError(err).Fatal("constructing agency")
	}
	_ = ag // agents are started by the embedding application via ag.StartAgent

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	log.WithField("addr", *metricsAddr).Info("agencyd started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("agencyd shutting down")
	_ = server.Close()
}
