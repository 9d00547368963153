package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/mattjoyce/crucible/internal/config"
	"github.com/mattjoyce/crucible/internal/log"
)

// Stream names tagged on every emitted line.
const (
	Stdout = "stdout"
	Stderr = "stderr"
)

// TruncatedMarker closes a line that hit the per-line cap.
const TruncatedMarker = "[TRUNCATED]"

// OverflowWarning is emitted once per stream when the total-output cap
// is breached.
const OverflowWarning = "output limit reached, dropping subsequent lines"

// Line is one decoded chunk of process output.
type Line struct {
	Stream    string
	Data      string
	Truncated bool
}

// Sink receives lines as they are read. Both streams pump concurrently,
// so implementations must be safe for concurrent use.
type Sink func(line Line)

// TotalsFunc receives the running byte count per stream as output is
// consumed, including bytes that were later truncated or dropped.
type TotalsFunc func(stream string, delta int64)

// Result summarizes one stream after its pump finishes.
type Result struct {
	Lines   int64
	Bytes   int64
	Dropped int64
}

// Multiplexer pumps a process's stdout and stderr concurrently, keeping
// line framing intact under the per-line and per-stream caps.
type Multiplexer struct {
	maxLineBytes   int
	maxStreamBytes int64
	logger         *slog.Logger
}

func New(cfg *config.Config) *Multiplexer {
	return &Multiplexer{
		maxLineBytes:   cfg.Limits.MaxLineBytes,
		maxStreamBytes: cfg.Limits.MaxStreamBytes,
		logger:         log.WithComponent("stream"),
	}
}

// Pump streams both pipes until EOF and returns per-stream summaries.
// totals may be nil.
func (m *Multiplexer) Pump(stdout, stderr io.Reader, sink Sink, totals TotalsFunc) (Result, Result) {
	var (
		wg        sync.WaitGroup
		outResult Result
		errResult Result
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		outResult = m.pumpStream(stdout, Stdout, sink, totals)
	}()
	go func() {
		defer wg.Done()
		errResult = m.pumpStream(stderr, Stderr, sink, totals)
	}()
	wg.Wait()

	return outResult, errResult
}

func (m *Multiplexer) pumpStream(r io.Reader, name string, sink Sink, totals TotalsFunc) Result {
	br := bufio.NewReaderSize(r, m.maxLineBytes)
	var res Result
	warned := false

	count := func(n int64) {
		res.Bytes += n
		if totals != nil {
			totals(name, n)
		}
	}

	emit := func(data string, truncated bool) {
		if res.Bytes > m.maxStreamBytes {
			if !warned {
				warned = true
				m.logger.Warn("Stream output limit reached", "stream", name, "limit_bytes", m.maxStreamBytes)
				sink(Line{Stream: name, Data: OverflowWarning + "\n"})
			}
			res.Dropped++
			return
		}
		res.Lines++
		sink(Line{Stream: name, Data: data, Truncated: truncated})
	}

	for {
		line, err := br.ReadSlice('\n')
		switch {
		case err == nil:
			count(int64(len(line)))
			emit(decode(line), false)

		case errors.Is(err, bufio.ErrBufferFull):
			// The buffer filled without a terminator. Close the partial
			// line with the marker and drop input up to the next newline
			// so framing stays aligned.
			count(int64(len(line)))
			data := decode(line) + TruncatedMarker + "\n"
			discarded, derr := m.discardToNewline(br)
			count(discarded)
			emit(data, true)
			if derr != nil {
				m.logFinish(name, res)
				return res
			}

		case errors.Is(err, io.EOF):
			if len(line) > 0 {
				count(int64(len(line)))
				emit(decode(line), false)
			}
			m.logFinish(name, res)
			return res

		default:
			if len(line) > 0 {
				count(int64(len(line)))
				emit(decode(line), false)
			}
			m.logger.Warn("Stream read ended", "stream", name, "error", err)
			m.logFinish(name, res)
			return res
		}
	}
}

// discardToNewline consumes input up to and including the next newline,
// returning how many bytes were dropped.
func (m *Multiplexer) discardToNewline(br *bufio.Reader) (int64, error) {
	var discarded int64
	for {
		skipped, err := br.ReadSlice('\n')
		discarded += int64(len(skipped))
		if err == nil {
			return discarded, nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return discarded, err
	}
}

func (m *Multiplexer) logFinish(name string, res Result) {
	m.logger.Info(fmt.Sprintf("%s completed", name),
		"lines", res.Lines, "bytes", res.Bytes, "dropped", res.Dropped)
}

// decode converts raw bytes to text, replacing invalid UTF-8.
func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
