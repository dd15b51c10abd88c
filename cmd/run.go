package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/bucket"
	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/dedupe"
	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/restapi"
	st "github.com/AustralianCyberSecurityCentre/azul-dedup.git/settings"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"
)

const maxLineBytes = 16 * 1024 * 1024

type runOptions struct {
	// write one file per outcome instead of annotating stdout
	OutDir string
	// address of the status router, empty to disable
	Listen string
}

type runSummary struct {
	Lines   int64             `json:"lines"`
	Skipped int64             `json:"skipped"`
	Batches int               `json:"batches"`
	Totals  dedupe.BatchStats `json:"totals"`
}

func (s *runSummary) add(b dedupe.BatchStats) {
	s.Batches++
	s.Totals.Batch = b.Batch
	s.Totals.Unique += b.Unique
	s.Totals.Duplicate += b.Duplicate
	s.Totals.Expired += b.Expired
	s.Totals.Error += b.Error
	s.Totals.PrefilterHits += b.PrefilterHits
	s.Totals.Buckets = b.Buckets
}

// sink writes decided lines, either annotated to one stream or split into a file per outcome.
type sink struct {
	stdout  *bufio.Writer
	files   []*os.File
	writers map[dedupe.Outcome]*bufio.Writer
	err     error
}

func newSink(outDir string, stdout io.Writer) (*sink, error) {
	s := &sink{}
	if outDir == "" {
		s.stdout = bufio.NewWriter(stdout)
		return s, nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	s.writers = map[dedupe.Outcome]*bufio.Writer{}
	for _, o := range []dedupe.Outcome{dedupe.Unique, dedupe.Duplicate, dedupe.Expired, dedupe.Error} {
		f, err := os.Create(filepath.Join(outDir, o.String()+".jsonl"))
		if err != nil {
			_ = s.close()
			return nil, fmt.Errorf("create output file: %w", err)
		}
		s.files = append(s.files, f)
		s.writers[o] = bufio.NewWriter(f)
	}
	return s, nil
}

func (s *sink) write(o dedupe.Outcome, l Line) {
	if s.err != nil {
		return
	}
	w := s.writers[o]
	line := l.Raw
	if s.stdout != nil {
		w = s.stdout
		if annotated, err := sjson.SetBytes(l.Raw, "_dedup", o.String()); err == nil {
			line = annotated
		}
	}
	if _, err := w.Write(line); err != nil {
		s.err = err
		return
	}
	s.err = w.WriteByte('\n')
}

func (s *sink) outputs() dedupe.Outputs[Line] {
	return dedupe.Outputs[Line]{
		Unique:    func(l Line) { s.write(dedupe.Unique, l) },
		Duplicate: func(l Line) { s.write(dedupe.Duplicate, l) },
		Expired: func(l Line) {
			st.AuditLine(st.ChLogExpired, l.Raw)
			s.write(dedupe.Expired, l)
		},
		Error: func(l Line) {
			st.AuditLine(st.ChLogError, l.Raw)
			s.write(dedupe.Error, l)
		},
	}
}

func (s *sink) flush() error {
	if s.err != nil {
		return s.err
	}
	if s.stdout != nil {
		return s.stdout.Flush()
	}
	for _, w := range s.writers {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (s *sink) close() error {
	var errs []error
	for _, f := range s.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

// host feeds lines to a deduper, committing every batch once its output has been flushed.
type host struct {
	d         *dedupe.Deduper[Line]
	sink      *sink
	key       func(Line) (string, error)
	batchSize int
	namespace string

	batch   int64
	inBatch bool
	pending int

	mu      sync.Mutex
	summary runSummary
	last    dedupe.BatchStats
}

type hostStatus struct {
	Partition string            `json:"partition"`
	Namespace string            `json:"namespace"`
	Summary   runSummary        `json:"summary"`
	LastBatch dedupe.BatchStats `json:"last_batch"`
}

func (h *host) status() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return hostStatus{
		Partition: h.d.Partition().String(),
		Namespace: h.namespace,
		Summary:   h.summary,
		LastBatch: h.last,
	}
}

func (h *host) process(ctx context.Context, raw []byte) error {
	h.mu.Lock()
	h.summary.Lines++
	l := Line{Num: h.summary.Lines, Raw: raw}
	h.mu.Unlock()

	// lines of other partitions are left to the hosts that own them
	if key, err := h.key(l); err == nil && !h.d.Owns(key) {
		h.mu.Lock()
		h.summary.Skipped++
		h.mu.Unlock()
		return nil
	}
	if !h.inBatch {
		if err := h.d.BeginBatch(h.batch); err != nil {
			return err
		}
		h.inBatch = true
	}
	if err := h.d.Process(l); err != nil {
		return err
	}
	h.pending++
	if h.pending >= h.batchSize {
		return h.commit(ctx)
	}
	return nil
}

func (h *host) commit(ctx context.Context) error {
	if !h.inBatch {
		return nil
	}
	if err := h.d.EndBatch(ctx); err != nil {
		return fmt.Errorf("end batch %d: %w", h.batch, err)
	}
	if err := h.sink.flush(); err != nil {
		return fmt.Errorf("write output of batch %d: %w", h.batch, err)
	}
	if err := h.d.OnCommit(ctx, h.batch); err != nil {
		return fmt.Errorf("commit batch %d: %w", h.batch, err)
	}
	stats := h.d.Stats()
	h.mu.Lock()
	h.summary.add(stats)
	h.last = stats
	h.mu.Unlock()
	h.inBatch = false
	h.pending = 0
	h.batch++
	return nil
}

func serveStatus(addr string, status restapi.StatusFunc) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           restapi.NewRouter(status),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		st.Logger.Info().Str("addr", addr).Msg("launching status router")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			st.Logger.Error().Err(err).Msg("status router stopped")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			st.Logger.Warn().Err(err).Msg("status router shutdown")
		}
	}
}

// runDedup deduplicates every line of the inputs in batches of batch_size.
func runDedup(ctx context.Context, opts runOptions, inputs []io.Reader, stdout io.Writer) (*runSummary, error) {
	out, err := newSink(opts.OutDir, stdout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := out.close(); err != nil {
			st.Logger.Warn().Err(err).Msg("close output files")
		}
	}()
	d, err := newLineDeduper(ctx, out.outputs())
	if err != nil {
		return nil, err
	}
	defer d.Close()

	batchSize := st.Dedup.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	h := &host{
		d:         d,
		sink:      out,
		key:       lineKey(st.Dedup),
		batchSize: batchSize,
		namespace: d.Manager().Store().Options().Namespace,
		batch:     d.Manager().Checkpoint(bucket.PolicyState{}).LastFlushed + 1,
	}
	if opts.Listen != "" {
		stop := serveStatus(opts.Listen, h.status)
		defer stop()
	}

	for _, in := range inputs {
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), maxLineBytes)
		for sc.Scan() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			raw := bytes.TrimSpace(sc.Bytes())
			if len(raw) == 0 {
				continue
			}
			// the scanner reuses its buffer and lines may wait on a bucket load
			if err := h.process(ctx, bytes.Clone(raw)); err != nil {
				return nil, err
			}
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
	}
	if err := h.commit(ctx); err != nil {
		return nil, err
	}

	h.mu.Lock()
	summary := h.summary
	h.mu.Unlock()
	st.Logger.Info().
		Int64("lines", summary.Lines).
		Int64("skipped", summary.Skipped).
		Int("batches", summary.Batches).
		Int("unique", summary.Totals.Unique).
		Int("duplicate", summary.Totals.Duplicate).
		Int("expired", summary.Totals.Expired).
		Int("error", summary.Totals.Error).
		Msg("dedup run complete")
	return &summary, nil
}

var runOpts runOptions

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [file]...",
	Short: "Deduplicate JSON lines from files or stdin",
	Long: `Reads JSON lines from the given files, or stdin when none are given, and decides
each one as unique, duplicate, expired or error.

Without --out-dir every line is written to stdout with a "_dedup" field holding its
outcome. With --out-dir lines are split into unique.jsonl, duplicate.jsonl, expired.jsonl
and error.jsonl. Lines are committed to the store every DD_DEDUP__BATCH_SIZE lines.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		inputs := []io.Reader{}
		for _, name := range args {
			f, err := os.Open(name)
			if err != nil {
				return err
			}
			defer f.Close()
			inputs = append(inputs, f)
		}
		if len(inputs) == 0 {
			inputs = append(inputs, cmd.InOrStdin())
		}
		summary, err := runDedup(ctx, runOpts, inputs, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if runOpts.OutDir != "" {
			raw, err := json.Marshal(summary)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runOpts.OutDir, "out-dir", "", "write a jsonl file per outcome into this folder")
	runCmd.Flags().StringVar(&runOpts.Listen, "listen", "", "serve /status, /metrics and pprof on this address, e.g. "+st.Settings.ListenAddr)
	rootCmd.AddCommand(runCmd)
}
