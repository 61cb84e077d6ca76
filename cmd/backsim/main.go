// Command backsim replays a CSV tick file through a simulated venue and
// reports execution statistics.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfold/backsim/internal/config"
	"github.com/quantfold/backsim/internal/exchange"
	"github.com/quantfold/backsim/internal/model"
	"github.com/quantfold/backsim/pkg/logger"
)

func main() {
	var (
		configPath  = flag.String("config", "config.yaml", "venue configuration file")
		quotesPath  = flag.String("quotes", "", "CSV quote file: ts_ns,instrument_id,bid,ask,bid_size,ask_size")
		metricsAddr = flag.String("metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
		logLevel    = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	log, err := logger.NewLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(*configPath, *quotesPath, *metricsAddr, log); err != nil {
		log.Fatal("run failed", zap.Error(err))
	}
}

func run(configPath, quotesPath, metricsAddr string, log *zap.Logger) error {
	cfg, err := config.Load(configPath, log)
	if err != nil {
		return err
	}
	opts, err := cfg.Build(log)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		registry := prometheus.NewRegistry()
		opts.Metrics = exchange.NewMetrics(registry)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
		log.Info("serving metrics", zap.String("addr", metricsAddr))
	}

	counts := make(map[string]int)
	opts.Handler = func(ev model.Event) {
		counts[ev.EventType()]++
		log.Debug("event", zap.String("type", ev.EventType()), zap.Int64("ts", ev.EventTimeNs()))
	}

	venue, err := exchange.New(opts)
	if err != nil {
		return err
	}
	for _, ic := range cfg.Instruments {
		if err := venue.AddInstrument(ic.Instrument()); err != nil {
			return err
		}
	}

	if quotesPath == "" {
		log.Info("no quote file given, nothing to replay")
		return nil
	}
	replayed, err := replayQuotes(venue, quotesPath)
	if err != nil {
		return err
	}

	log.Info("replay complete", zap.Int("quotes", replayed))
	for typ, n := range counts {
		log.Info("event count", zap.String("type", typ), zap.Int("count", n))
	}
	return nil
}

// replayQuotes streams the CSV file through the venue in file order. The
// file must already be sorted by timestamp; out-of-order rows abort the run.
func replayQuotes(venue *exchange.SimulatedExchange, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6
	count := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("row %d: %w", count+1, err)
		}
		q, err := parseQuote(rec)
		if err != nil {
			return count, fmt.Errorf("row %d: %w", count+1, err)
		}
		if err := venue.ProcessQuote(q); err != nil {
			return count, fmt.Errorf("row %d: %w", count+1, err)
		}
		count++
	}
}

func parseQuote(rec []string) (*model.QuoteTick, error) {
	ts, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("timestamp %q: %w", rec[0], err)
	}
	fields := make([]decimal.Decimal, 4)
	for i, raw := range rec[2:] {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", raw, err)
		}
		fields[i] = d
	}
	return &model.QuoteTick{
		InstrumentID: rec[1],
		BidPrice:     fields[0],
		AskPrice:     fields[1],
		BidSize:      fields[2],
		AskSize:      fields[3],
		TsEventNs:    ts,
	}, nil
}
