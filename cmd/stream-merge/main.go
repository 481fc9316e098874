// Copyright 2026 the stream-merge authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/robber-m/stream-merge/internal/config"
	"github.com/robber-m/stream-merge/pkg/fetch"
	"github.com/robber-m/stream-merge/pkg/govern"
	"github.com/robber-m/stream-merge/pkg/merge"
	"github.com/robber-m/stream-merge/pkg/metrics"
	"github.com/robber-m/stream-merge/pkg/pcap"
	"github.com/robber-m/stream-merge/pkg/pipeline"
	"github.com/robber-m/stream-merge/pkg/source"
)

const version = "dev"

type options struct {
	configPath  string
	output      string
	decode      int
	fetchBudget int
	chunkSize   int
	inFlight    int
	maxAttempts int
	metricsAddr string
	logLevel    string
	s3Region    string
	s3Endpoint  string
	s3PathStyle bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := &options{}
	root := &cobra.Command{
		Use:   "stream-merge [flags] SOURCE...",
		Short: "Merge time-sorted compressed pcap files into one ordered stream",
		Long: `stream-merge reads many individually time-sorted pcap files, local or in
S3, decompresses them on the fly, and writes a single globally time-ordered
pcap stream to stdout. Memory stays bounded regardless of input count: only
a small prefetch window per source is held at once.

Sources are local paths, directories, s3://bucket/key objects, or
s3://bucket/prefix/ listings. A failing source is dropped from the merge
with a diagnostic; the remaining sources complete.`,
		Version:      version,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(ctx, opts, args)
		},
	}

	fl := root.Flags()
	fl.StringVarP(&opts.configPath, "config", "c", envOrDefault("PCAPMERGE_CONFIG", ""), "path to YAML config file")
	fl.StringVarP(&opts.output, "output", "o", "", "write to file instead of stdout")
	fl.IntVar(&opts.decode, "decode-budget", parseEnvInt("PCAPMERGE_DECODE_BUDGET", 0), "max sources decoding concurrently (0 = GOMAXPROCS)")
	fl.IntVar(&opts.fetchBudget, "fetch-budget", parseEnvInt("PCAPMERGE_FETCH_BUDGET", 0), "max range requests in flight (0 = 4x decode budget)")
	fl.IntVar(&opts.chunkSize, "chunk-size", parseEnvInt("PCAPMERGE_CHUNK_SIZE", 0), "fetch chunk size in bytes")
	fl.IntVar(&opts.inFlight, "chunks-in-flight", parseEnvInt("PCAPMERGE_CHUNKS_IN_FLIGHT", 0), "prefetched chunks per source")
	fl.IntVar(&opts.maxAttempts, "max-attempts", parseEnvInt("PCAPMERGE_MAX_ATTEMPTS", 0), "fetch attempts before a source is dropped")
	fl.StringVar(&opts.metricsAddr, "metrics-addr", envOrDefault("PCAPMERGE_METRICS_ADDR", ""), "Prometheus listen address (empty = disabled)")
	fl.StringVar(&opts.logLevel, "log-level", envOrDefault("PCAPMERGE_LOG_LEVEL", ""), "log level: debug, info, warn, error")
	fl.StringVar(&opts.s3Region, "s3-region", envOrDefault("PCAPMERGE_S3_REGION", ""), "AWS region for S3 sources")
	fl.StringVar(&opts.s3Endpoint, "s3-endpoint", envOrDefault("PCAPMERGE_S3_ENDPOINT", ""), "custom S3 endpoint (MinIO, localstack)")
	fl.BoolVar(&opts.s3PathStyle, "s3-path-style", parseEnvBool("PCAPMERGE_S3_PATH_STYLE", false), "use path-style S3 addressing")

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, args []string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.Metrics.Addr != "" {
		metrics.Serve(ctx, cfg.Metrics.Addr, logger)
	}

	stores := newStoreSet(cfg, logger)
	resolver := &source.Resolver{ListerFor: func(ctx context.Context, bucket string) (source.RemoteLister, error) {
		return stores.remote(ctx, bucket)
	}}
	descs, err := resolver.Resolve(ctx, args)
	if err != nil {
		return fmt.Errorf("resolve inputs: %w", err)
	}
	logger.Info("inputs resolved", "sources", len(descs))

	out := os.Stdout
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	decodeGov := govern.New(cfg.Concurrency.DecodeBudget)
	fetchGov := govern.New(cfg.Concurrency.FetchBudget)
	pipeCfg := pipeline.Config{
		Chunker: fetch.ChunkerConfig{
			ChunkSize: cfg.Fetch.ChunkSizeBytes,
			InFlight:  cfg.Fetch.ChunksInFlight,
			Retry: fetch.RetryPolicy{
				MaxAttempts:     cfg.Fetch.MaxAttempts,
				InitialInterval: time.Duration(cfg.Fetch.InitialInterval),
				MaxInterval:     time.Duration(cfg.Fetch.MaxInterval),
			},
			OnOp: metrics.ObserveFetch,
		},
	}

	streams := make([]merge.Stream, len(descs))
	for i, desc := range descs {
		store, key, err := stores.open(ctx, desc)
		if err != nil {
			return err
		}
		streams[i] = pipeline.New(ctx, desc, store, key, decodeGov, fetchGov, pipeCfg)
	}

	writer := pcap.NewWriter(out, pcap.DefaultWriteBufferSize)
	sched := merge.NewScheduler(streams, writer, logger)
	start := time.Now()
	diags, err := sched.Run(ctx)
	if err != nil {
		logger.Error("merge aborted", "error", err)
		return err
	}

	logger.Info("merge complete",
		"records", diags.Records,
		"sources_merged", diags.SourcesMerged,
		"source_errors", len(diags.SourceErrors),
		"sort_violations", diags.SortViolations,
		"header_warnings", diags.HeaderWarnings,
		"elapsed", time.Since(start).Round(time.Millisecond).String())
	for _, se := range diags.SourceErrors {
		logger.Warn("source failed", "source", se.Identity, "error", se.Err)
	}
	return nil
}

// loadConfig layers file, environment, and flags: the file supplies the
// base, flags and PCAPMERGE_* variables override it.
func loadConfig(opts *options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if opts.decode > 0 {
		cfg.Concurrency.DecodeBudget = opts.decode
		if opts.fetchBudget <= 0 && cfg.Concurrency.FetchBudget < opts.decode {
			cfg.Concurrency.FetchBudget = 4 * opts.decode
		}
	}
	if opts.fetchBudget > 0 {
		cfg.Concurrency.FetchBudget = opts.fetchBudget
	}
	if opts.chunkSize > 0 {
		cfg.Fetch.ChunkSizeBytes = opts.chunkSize
	}
	if opts.inFlight > 0 {
		cfg.Fetch.ChunksInFlight = opts.inFlight
	}
	if opts.maxAttempts > 0 {
		cfg.Fetch.MaxAttempts = opts.maxAttempts
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.s3Region != "" {
		cfg.S3.Region = opts.s3Region
	}
	if opts.s3Endpoint != "" {
		cfg.S3.Endpoint = opts.s3Endpoint
	}
	if opts.s3PathStyle {
		cfg.S3.ForcePathStyle = true
	}
	return cfg, nil
}

// storeSet hands out one local store and one S3 client per bucket.
type storeSet struct {
	cfg     config.Config
	logger  *slog.Logger
	local   fetch.Store
	buckets map[string]fetch.ObjectStore
}

func newStoreSet(cfg config.Config, logger *slog.Logger) *storeSet {
	return &storeSet{
		cfg:     cfg,
		logger:  logger,
		local:   fetch.NewLocalStore(),
		buckets: make(map[string]fetch.ObjectStore),
	}
}

func (s *storeSet) remote(ctx context.Context, bucket string) (fetch.ObjectStore, error) {
	if st, ok := s.buckets[bucket]; ok {
		return st, nil
	}
	st, err := fetch.NewS3Store(ctx, fetch.S3Config{
		Bucket:          bucket,
		Region:          s.cfg.S3.Region,
		Endpoint:        s.cfg.S3.Endpoint,
		ForcePathStyle:  s.cfg.S3.ForcePathStyle,
		AccessKeyID:     s.cfg.S3.AccessKeyID,
		SecretAccessKey: s.cfg.S3.SecretKey,
		SessionToken:    s.cfg.S3.SessionToken,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client for bucket %s: %w", bucket, err)
	}
	s.logger.Debug("s3 client created", "bucket", bucket)
	s.buckets[bucket] = st
	return st, nil
}

// open maps a descriptor to the store and key its pipeline reads from.
func (s *storeSet) open(ctx context.Context, desc source.Descriptor) (fetch.Store, string, error) {
	if desc.Origin != source.OriginRemote {
		return s.local, desc.Identity, nil
	}
	bucket, key, err := source.ParseS3URI(desc.Identity)
	if err != nil {
		return nil, "", err
	}
	st, err := s.remote(ctx, bucket)
	if err != nil {
		return nil, "", err
	}
	return st, key, nil
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	// stdout carries the merged pcap stream, so diagnostics go to stderr.
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler).With("component", "stream-merge")
}

func parseEnvInt(name string, fallback int) int {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseEnvBool(name string, fallback bool) bool {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrDefault(name, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		return val
	}
	return fallback
}
