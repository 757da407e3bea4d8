package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	mmate "github.com/glimte/mmate-outbound"
	"github.com/glimte/mmate-outbound/contracts"
	"github.com/glimte/mmate-outbound/health"
	"github.com/glimte/mmate-outbound/internal/reliability"
	"github.com/glimte/mmate-outbound/internal/tracing"
	"github.com/glimte/mmate-outbound/messaging"
	"github.com/glimte/mmate-outbound/transports/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var errDiscarded = errors.New("envelopes were discarded after exhausting their attempts")

type sendOptions struct {
	destination   string
	messageType   string
	data          string
	dataFile      string
	contentType   string
	correlationID string
	delay         time.Duration
	headers       map[string]string
	count         int
	drainTimeout  time.Duration
}

var sendOpts = sendOptions{headers: map[string]string{}}

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send an envelope and wait until it is delivered or discarded",
	Long: `Build an envelope from flags and hand it to the sending agent for its destination.
The command waits for the retry queue to drain and fails when any envelope was discarded.

Examples:
  mmate-send send -d rabbitmq://exchange/orders/order.placed -t OrderPlaced --data '{"id":42}'
  mmate-send send -d kafka://topic/orders -t OrderPlaced --data-file order.json
  mmate-send send -d nsq://orders -t Reminder --delay 30s
  mmate-send send -d memory://dry-run -t Ping --count 10 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSend(cmd.Context(), cmd.OutOrStdout(), cmd.InOrStdin(), sendOpts)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	f := sendCmd.Flags()
	f.StringVarP(&sendOpts.destination, "destination", "d", "", "destination URI (required)")
	f.StringVarP(&sendOpts.messageType, "type", "t", "", "message type (required)")
	f.StringVar(&sendOpts.data, "data", "", "message body")
	f.StringVar(&sendOpts.dataFile, "data-file", "", "read the message body from a file, - for stdin")
	f.StringVar(&sendOpts.contentType, "content-type", contracts.DefaultContentType, "body content type")
	f.StringVar(&sendOpts.correlationID, "correlation-id", "", "correlation id")
	f.DurationVar(&sendOpts.delay, "delay", 0, "schedule delivery this far in the future")
	f.StringToStringVar(&sendOpts.headers, "header", map[string]string{}, "extra header key=value, repeatable")
	f.IntVar(&sendOpts.count, "count", 1, "number of envelopes to send")
	f.DurationVar(&sendOpts.drainTimeout, "drain-timeout", 30*time.Second, "how long to wait for retries to finish")

	_ = sendCmd.MarkFlagRequired("destination")
	_ = sendCmd.MarkFlagRequired("type")
}

type sendResult struct {
	Envelopes []string                          `json:"envelopes"`
	Stats     map[string]reliability.BlockStats `json:"stats"`
}

func runSend(ctx context.Context, out io.Writer, in io.Reader, opts sendOptions) error {
	if opts.count < 1 {
		return fmt.Errorf("--count must be at least 1, got %d", opts.count)
	}

	body, err := readBody(opts, in)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	reg := prometheus.NewRegistry()
	client, err := newClient(ctx, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close client", "error", err)
		}
	}()

	if cfg.Metrics.Addr != "" {
		srv := serveObservability(cfg.Metrics.Addr, reg, client, logger)
		defer srv.Close()
	}

	result := sendResult{}
	for i := 0; i < opts.count; i++ {
		env, err := buildEnvelope(opts, body, time.Now())
		if err != nil {
			return err
		}
		if err := client.Send(ctx, env); err != nil {
			return fmt.Errorf("envelope %s was not accepted: %w", env.ID, err)
		}
		result.Envelopes = append(result.Envelopes, env.ID)
	}

	drainCtx, cancel := context.WithTimeout(ctx, opts.drainTimeout)
	defer cancel()
	if err := client.Drain(drainCtx); err != nil {
		return fmt.Errorf("failed to drain: %w", err)
	}

	result.Stats = client.Stats()
	if err := printSendResult(out, result); err != nil {
		return err
	}

	for _, stats := range result.Stats {
		if stats.Discarded > 0 {
			return errDiscarded
		}
	}
	return nil
}

func newClient(ctx context.Context, reg prometheus.Registerer) (*mmate.Client, error) {
	endpoint := messaging.Endpoint{
		MaximumAttempts: cfg.Retry.MaximumAttempts,
		Pauses:          cfg.RetryPauses(),
		Parallelism:     cfg.Retry.Parallelism,
		Capacity:        cfg.Retry.Capacity,
	}

	options := []mmate.ClientOption{
		mmate.WithLogger(logger),
		mmate.WithEndpointDefaults(endpoint),
		mmate.WithDirectSend(cfg.Retry.DirectSend),
		mmate.WithMessageLogger(messaging.NewSlogMessageLogger(logger)),
		mmate.WithMetricsRegisterer(reg),
	}
	if cfg.Node.ID != "" {
		options = append(options, mmate.WithNodeID(cfg.Node.ID))
	}
	if cfg.Node.ReplyURI != "" {
		options = append(options, mmate.WithReplyURI(contracts.MustParseURI(cfg.Node.ReplyURI)))
	}
	if cfg.Node.DeadLetterURI != "" {
		options = append(options, mmate.WithDeadLetter(contracts.MustParseURI(cfg.Node.DeadLetterURI)))
	}
	if cfg.Retry.BreakerThreshold > 0 {
		options = append(options, mmate.WithCircuitBreaker(cfg.Retry.BreakerThreshold, cfg.Retry.BreakerOpenTimeout))
	}
	options = append(options, transportOptions(cfg, logger, memory.NewRegistry())...)

	return mmate.NewClient(ctx, options...)
}

func readBody(opts sendOptions, in io.Reader) ([]byte, error) {
	var (
		body []byte
		err  error
	)
	switch {
	case opts.data != "" && opts.dataFile != "":
		return nil, errors.New("--data and --data-file are mutually exclusive")
	case opts.dataFile == "-":
		body, err = io.ReadAll(in)
	case opts.dataFile != "":
		body, err = os.ReadFile(opts.dataFile)
	default:
		body = []byte(opts.data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}

	if len(body) > 0 && opts.contentType == contracts.DefaultContentType && !json.Valid(body) {
		return nil, fmt.Errorf("message body is not valid JSON for content type %s", opts.contentType)
	}
	return body, nil
}

func buildEnvelope(opts sendOptions, body []byte, now time.Time) (*contracts.Envelope, error) {
	destination, err := url.Parse(opts.destination)
	if err != nil {
		return nil, fmt.Errorf("invalid destination: %w", err)
	}
	if destination.Scheme == "" {
		return nil, fmt.Errorf("destination %q has no scheme", opts.destination)
	}

	env := contracts.NewEnvelope(opts.messageType, body)
	env.Destination = destination
	env.ContentType = opts.contentType
	env.CorrelationID = opts.correlationID
	for k, v := range opts.headers {
		env.SetHeader(k, v)
	}
	if opts.delay > 0 {
		scheduled := now.Add(opts.delay).UTC()
		env.ScheduledTime = &scheduled
	}
	return env, nil
}

func printSendResult(out io.Writer, result sendResult) error {
	if outputJSON {
		return printJSON(out, result)
	}

	for _, id := range result.Envelopes {
		fmt.Fprintf(out, "Accepted %s\n", id)
	}

	destinations := make([]string, 0, len(result.Stats))
	for dest := range result.Stats {
		destinations = append(destinations, dest)
	}
	sort.Strings(destinations)
	for _, dest := range destinations {
		s := result.Stats[dest]
		fmt.Fprintf(out, "%s: %d sent, %d retried, %d discarded\n", dest, s.Completed, s.Retried, s.Discarded)
	}
	return nil
}

// serveObservability exposes /metrics and /healthz while the command runs
func serveObservability(addr string, reg *prometheus.Registry, client *mmate.Client, logger *slog.Logger) *http.Server {
	checks := health.NewRegistry()
	checks.Register(health.NewSendingChecker(client, cfg.Retry.Capacity))
	checks.Register(health.NewRuntimeChecker(500, 1000))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/healthz", health.NewHandler(checks, 5*time.Second))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics and health", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("observability server failed", "error", err)
		}
	}()
	return srv
}
