package main

import (
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bankbridge/bankbridge/internal/domain"
	"github.com/bankbridge/bankbridge/internal/logging"
	"github.com/bankbridge/bankbridge/internal/rdg"
	"github.com/bankbridge/bankbridge/internal/transfer"
)

var (
	baseURL     string
	rps         int
	concurrent  int
	dbms        string
	minAmount   int64
	maxAmount   int64
	allowSameDB bool
	duration    time.Duration
	logLevel    string
)

func init() {
	flag.StringVar(&baseURL, "url", "http://localhost:8080", "facade base URL")
	flag.IntVar(&rps, "rps", 10, "transfers launched per second")
	flag.IntVar(&concurrent, "concurrent", 50, "max transfers in flight")
	flag.StringVar(&dbms, "dbms", "mysql,postgres", "comma-separated engines to draw from")
	flag.Int64Var(&minAmount, "min-amount", 1000, "minimum transfer amount")
	flag.Int64Var(&maxAmount, "max-amount", 100000, "maximum transfer amount")
	flag.BoolVar(&allowSameDB, "allow-same-db", false, "permit src and dst on the same engine")
	flag.DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	flag.StringVar(&logLevel, "log-level", "INFO", "DEBUG | INFO | WARNING | ERROR")
}

func main() {
	flag.Parse()

	logger, err := logging.New(logLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	engines, err := domain.ParseEngines(splitCSV(dbms))
	if err != nil {
		log.Fatal(err)
	}

	cfg := rdg.Config{
		BaseURL:     baseURL,
		RPS:         rps,
		Concurrent:  concurrent,
		Engines:     engines,
		MinAmount:   minAmount,
		MaxAmount:   maxAmount,
		AllowSameDB: allowSameDB,
	}

	runner := rdg.NewRunner(func(url string, concurrency int) rdg.TransferFunc {
		client := transfer.NewClient(url, concurrency, logger)
		return transfer.NewOrchestrator(client, logger).Run
	}, logger)

	if err := runner.Start(cfg); err != nil {
		log.Fatal(err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	if duration > 0 {
		select {
		case <-sig:
		case <-time.After(duration):
		}
	} else {
		<-sig
	}

	if err := runner.Stop(); err != nil && !errors.Is(err, rdg.ErrNotRunning) {
		logger.Warn("generator stop failed", zap.Error(err))
	}

	// Final summary on stdout; progress lines go to the logger.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(runner.Snapshot())
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
