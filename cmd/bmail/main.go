// Command bmail is a command line client for Bmail.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/praveen5665/bmail"
	"github.com/praveen5665/bmail/internal/config"
	"github.com/praveen5665/bmail/internal/metrics"
)

const defaultTimeout = 2 * time.Minute

// Config holds the streams and hooks the commands run with.
type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Lookup resolves environment variables referenced by the config file.
	// The process environment and the default dotenv files when nil.
	Lookup config.LookupFunc

	// Open builds the client from the loaded configuration.
	Open func(ctx context.Context, cfg *config.Config, opts ...bmail.Option) (*bmail.Client, error)
}

// DefaultConfig returns a Config wired to the process streams.
func DefaultConfig() Config {
	return Config{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Open:   bmail.Open,
	}
}

var exitFunc = os.Exit

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	exitFunc(1)
}

func run(args []string, cfg Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand(cfg)
	cmd.SetArgs(args[1:])
	cmd.SetIn(cfg.Stdin)
	cmd.SetOut(cfg.Stdout)
	cmd.SetErr(cfg.Stderr)
	return cmd.ExecuteContext(ctx)
}

// globals are the persistent flags shared by every subcommand.
type globals struct {
	cfg         Config
	configFile  string
	identity    string
	metricsAddr string
	timeout     time.Duration
	logLevel    string
}

func newRootCommand(cfg Config) *cobra.Command {
	g := &globals{cfg: cfg}

	cmd := &cobra.Command{
		Use:   "bmail",
		Short: "Encrypted mail over a smart contract and IPFS",
		Long: `bmail sends and reads end-to-end encrypted messages. Message content is
encrypted for the recipient's RSA key and stored on IPFS; the EmailStorage
contract keeps the index of who sent what to whom.`,
		Example: `  # Register a key for the configured identity
  bmail -c bmail.toml register

  # Send a message and list the inbox
  bmail -c bmail.toml send bob@bmail.xyz -s "Hello" -b "Hi Bob"
  bmail -c bmail.toml inbox

  # Try everything offline
  bmail demo`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&g.configFile, "config", "c", "", "configuration file (TOML or YAML)")
	flags.StringVarP(&g.identity, "identity", "i", "", "act as this identity instead of the configured one")
	flags.StringVar(&g.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.DurationVarP(&g.timeout, "timeout", "t", defaultTimeout, "timeout for each command")
	flags.StringVar(&g.logLevel, "log-level", "", "override the configured log level (DEBUG, INFO, NOTICE, WARNING, ERROR)")

	cmd.AddCommand(
		newRegisterCommand(g),
		newSendCommand(g),
		newListCommand(g, bmail.FolderInbox),
		newListCommand(g, bmail.FolderSent),
		newListCommand(g, bmail.FolderDrafts),
		newReadCommand(g),
		newStarCommand(g),
		newDraftCommand(g),
		newBackupCommand(g),
		newRestoreCommand(g),
		newWatchCommand(g),
		newWaitCommand(g),
		newDemoCommand(g),
	)
	return cmd
}

// loadConfig reads the configuration file and applies the flag overrides.
func (g *globals) loadConfig() (*config.Config, error) {
	if g.configFile == "" {
		return nil, errors.New("config file must be specified with -c/--config")
	}
	lookup := g.cfg.Lookup
	if lookup == nil {
		var err error
		if lookup, err = config.Environment(); err != nil {
			return nil, err
		}
	}
	cfg, err := config.LoadFile(g.configFile, lookup)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if g.identity != "" {
		cfg.Identity = g.identity
	}
	if g.logLevel != "" {
		if cfg.Logging == nil {
			cfg.Logging = &config.Logging{}
		}
		cfg.Logging.Level = g.logLevel
	}
	if g.metricsAddr != "" {
		cfg.Metrics = &config.Metrics{Address: g.metricsAddr}
	}
	return cfg, nil
}

// serveMetrics starts the Prometheus endpoint on addr. The returned
// function stops it.
func serveMetrics(addr string) (*metrics.Metrics, func(), error) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go srv.Serve(ln)
	return m, func() { srv.Close() }, nil
}

// withClient opens a client for the command, runs fn and closes it again.
// bounded applies the --timeout flag.
func (g *globals) withClient(cmd *cobra.Command, bounded bool, fn func(ctx context.Context, c *bmail.Client) error) error {
	ctx := cmd.Context()
	if bounded && g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}

	var opts []bmail.Option
	if cfg.Metrics != nil && cfg.Metrics.Address != "" {
		m, stop, err := serveMetrics(cfg.Metrics.Address)
		if err != nil {
			return err
		}
		defer stop()
		opts = append(opts, bmail.WithMetrics(m))
	}

	open := g.cfg.Open
	if open == nil {
		open = bmail.Open
	}
	c, err := open(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}

func writeJSON(w io.Writer, v any) error {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// MessageOutput is the JSON form of a message.
type MessageOutput struct {
	ID        uint64 `json:"id"`
	From      string `json:"from,omitempty"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body,omitempty"`
	CreatedAt string `json:"createdAt"`
	ContentID string `json:"contentId"`
	Read      bool   `json:"read"`
	Starred   bool   `json:"starred"`
	Draft     bool   `json:"draft,omitempty"`
	Error     string `json:"error,omitempty"`
}

func convertMessage(m *bmail.Message) MessageOutput {
	out := MessageOutput{
		ID:        m.ID,
		Sender:    m.Sender.Hex(),
		Recipient: m.Recipient.Hex(),
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		ContentID: m.ContentID,
		Read:      m.IsRead,
		Starred:   m.IsStarred,
		Draft:     m.IsDraft,
	}
	if m.Payload != nil {
		out.From = m.Payload.Sender
		out.Subject = m.Payload.Subject
		out.Body = m.Payload.Body
	}
	if m.DecryptionError != nil {
		out.Error = m.DecryptionError.Error()
	}
	return out
}

func convertMessages(msgs []*bmail.Message) []MessageOutput {
	out := make([]MessageOutput, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, convertMessage(m))
	}
	return out
}

// SendOutput is the JSON form of a SendResult.
type SendOutput struct {
	Success     bool   `json:"success"`
	MessageID   uint64 `json:"messageId,omitempty"`
	ContentID   string `json:"contentId,omitempty"`
	TxHash      string `json:"txHash,omitempty"`
	IDConfirmed bool   `json:"idConfirmed,omitempty"`
	Error       string `json:"error,omitempty"`
}

func convertSendResult(r *bmail.SendResult) SendOutput {
	out := SendOutput{
		Success:     r.Success,
		MessageID:   r.MessageID,
		ContentID:   r.ContentID,
		IDConfirmed: r.IDConfirmed,
		Error:       r.Error,
	}
	if r.Success {
		out.TxHash = r.TxHash.Hex()
	}
	return out
}

// messageBody returns body, or standard input when body is "-".
func messageBody(cmd *cobra.Command, body string) (string, error) {
	if body != "-" {
		return body, nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(b), "\n"), nil
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q", s)
	}
	return id, nil
}
