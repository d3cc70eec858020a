// Command bartholomew is a minimal CLI harness over the memory
// governance engine, exercising the kernel's public operations
// against a local record store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haven-ai/bartholomew/internal/config"
	"github.com/haven-ai/bartholomew/internal/kernel"
	"github.com/haven-ai/bartholomew/internal/retrieve"
	"github.com/haven-ai/bartholomew/internal/store"
	"github.com/haven-ai/bartholomew/pkg/logging"
)

type flags struct {
	configPath string
	op         string
	kind       string
	key        string
	value      string
	query      string
	topK       int
	mode       string
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.configPath, "config", "bartholomew.yaml", "Path to engine config YAML")
	flag.StringVar(&f.op, "op", "retrieve", "Operation: upsert|delete|grant-consent|retrieve|brake-status")
	flag.StringVar(&f.kind, "kind", "", "Record kind")
	flag.StringVar(&f.key, "key", "", "Record key")
	flag.StringVar(&f.value, "value", "", "Record value (upsert only)")
	flag.StringVar(&f.query, "query", "", "Query text (retrieve only)")
	flag.IntVar(&f.topK, "top-k", 10, "Result count (retrieve only)")
	flag.StringVar(&f.mode, "mode", "", "Retrieval channel mode: hybrid|vector|fts (retrieve only, defaults to config)")
	flag.Parse()
	return f
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	f := parseFlags()

	log, sync, err := logging.NewLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		log.Info("falling back to default configuration", "error", err.Error())
		cfg = config.Default()
	}

	k, err := kernel.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("assembling kernel: %w", err)
	}
	defer func() { _ = k.Close() }()

	switch f.op {
	case "upsert":
		return doUpsert(ctx, k, f)
	case "delete":
		return k.Delete(ctx, f.kind, f.key)
	case "grant-consent":
		return k.GrantConsent(ctx, f.kind, f.key)
	case "retrieve":
		return doRetrieve(ctx, k, f)
	case "brake-status":
		return doBrakeStatus(k)
	default:
		return fmt.Errorf("unknown op %q", f.op)
	}
}

func doUpsert(ctx context.Context, k *kernel.Kernel, f *flags) error {
	result, err := k.Upsert(ctx, store.UpsertInput{
		Kind: f.kind, Key: f.key, Value: f.value, Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func doRetrieve(ctx context.Context, k *kernel.Kernel, f *flags) error {
	results, err := k.Retrieve(ctx, f.query, f.topK, retrieve.Filters{}, retrieve.ChannelMode(f.mode))
	if err != nil {
		return err
	}
	return printJSON(results)
}

func doBrakeStatus(k *kernel.Kernel) error {
	engaged, scopes := k.BrakeStatus()
	return printJSON(struct {
		Engaged bool     `json:"engaged"`
		Scopes  []string `json:"scopes"`
	}{engaged, scopes})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
