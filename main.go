package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strata/config"
	"strata/storage"
	"strata/storage/wal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var (
		configFile  = flag.String("config", "", "path to a yaml/json/toml options file")
		dir         = flag.String("dir", "data", "log directory")
		metricsAddr = flag.String("metrics-addr", "", "serve prometheus metrics on this address")
		txEvery     = flag.Int("tx-every", 100, "commit a three-entry transaction every n appends")
	)
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	registerer := prometheus.NewRegistry()

	opts, err := config.Load(*configFile)
	if err != nil {
		level.Error(logger).Log("msg", "error loading config", "err", err)
		os.Exit(1)
	}

	w, err := wal.Open(logger, registerer, *dir, opts)
	if err != nil {
		level.Error(logger).Log("msg", "error opening log", "err", err)
		os.Exit(1)
	}

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				level.Error(logger).Log("msg", "metrics server stopped", "err", err)
			}
		}()
	}

	var done atomic.Bool

	wg := sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()

		appended := 0
		now := time.Now()

		for !done.Load() {
			if _, err := w.Append(storage.Entry{Term: 1, Payload: []byte("It's hello world test for the log")}); err != nil {
				level.Error(logger).Log("msg", "append failed", "err", err)
				return
			}
			appended++

			if *txEvery > 0 && appended%*txEvery == 0 {
				if err := commitDemoTransaction(w); err != nil {
					level.Error(logger).Log("msg", "transaction failed", "err", err)
				}
			}
		}

		logger.Log("since", time.Since(now), "appended", appended, "lastIndex", w.LastIndex(), "msg", "records have been written")
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	logger.Log("msg", "app started...", "dir", *dir, "firstIndex", w.FirstIndex(), "lastIndex", w.LastIndex())
	<-sigs

	done.Store(true)
	wg.Wait()

	if err := w.Close(); err != nil {
		level.Error(logger).Log("msg", "error closing log", "err", err)
	}

	logger.Log("msg", "exiting...")
}

func commitDemoTransaction(w *wal.Wal) error {
	id, err := w.BeginTransaction(0)
	if err != nil {
		return err
	}

	for _, p := range []string{"debit", "credit", "audit"} {
		if err := w.AddToTransaction(id, storage.Entry{Term: 1, Payload: []byte(p)}); err != nil {
			w.RollbackTransaction(id)
			return err
		}
	}

	_, err = w.CommitTransaction(id)
	return err
}
