package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	wttpd "github.com/siteforge/wttpd"
	"github.com/siteforge/wttpd/internal/config"
	"github.com/siteforge/wttpd/pkg/apiServer"
	"github.com/siteforge/wttpd/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	listen := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	log := logrus.New()
	log.SetOutput(os.Stderr)

	conf := config.Default()
	if *configPath != "" {
		var err error
		conf, err = config.Load(*configPath)
		if err != nil {
			log.WithError(err).Fatal("could not load config")
		}
	}
	if *listen != "" {
		conf.Listen = *listen
	}
	if conf.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	store, err := wttpd.New(wttpd.Config{
		Paths:                     conf.Paths,
		MinimumFreeGB:             conf.MinimumFreeGB,
		GarbageCollectionInterval: time.Duration(conf.GCIntervalMin) * time.Minute,
		Owner:                     types.Identity(conf.Owner),
		RoyaltyRate:               conf.RoyaltyRate,
		SuperAdmin:                types.Identity(conf.SuperAdmin),
		Logger:                    log,
	})
	if err != nil {
		log.WithError(err).Fatal("could not open store")
	}
	defer store.Close()

	server := &http.Server{
		Addr:    conf.Listen,
		Handler: apiServer.New(store, apiServer.WithLogger(log)),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("shutdown did not complete cleanly")
		}
	}()

	log.WithFields(logrus.Fields{
		"listen": conf.Listen,
		"paths":  conf.Paths,
	}).Info("wttpd serving")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server failed")
	}
}
