package stream

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/crucible/internal/config"
)

type collector struct {
	mu    sync.Mutex
	lines []Line
}

func (c *collector) sink(l Line) {
	c.mu.Lock()
	c.lines = append(c.lines, l)
	c.mu.Unlock()
}

func (c *collector) byStream(name string) []Line {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Line
	for _, l := range c.lines {
		if l.Stream == name {
			out = append(out, l)
		}
	}
	return out
}

func newTestMux(maxLine int, maxStream int64) *Multiplexer {
	cfg := config.Defaults()
	cfg.Limits.MaxLineBytes = maxLine
	cfg.Limits.MaxStreamBytes = maxStream
	return New(cfg)
}

func TestPumpTagsStreams(t *testing.T) {
	t.Parallel()

	m := newTestMux(8192, 10<<20)
	var c collector

	outRes, errRes := m.Pump(
		strings.NewReader("line1\nline2\n"),
		strings.NewReader("oops\n"),
		c.sink, nil,
	)

	stdout := c.byStream(Stdout)
	stderr := c.byStream(Stderr)
	assert.Len(t, stdout, 2)
	assert.Len(t, stderr, 1)
	assert.Equal(t, "line1\n", stdout[0].Data)
	assert.Equal(t, "line2\n", stdout[1].Data)
	assert.Equal(t, "oops\n", stderr[0].Data)
	assert.Equal(t, int64(12), outRes.Bytes)
	assert.Equal(t, int64(5), errRes.Bytes)
	assert.Equal(t, int64(2), outRes.Lines)
}

func TestLongLineTruncatedWithoutDesync(t *testing.T) {
	t.Parallel()

	m := newTestMux(8192, 10<<20)
	var c collector

	long := strings.Repeat("x", 20000)
	outRes, _ := m.Pump(
		strings.NewReader(long+"\nnext\n"),
		strings.NewReader(""),
		c.sink, nil,
	)

	stdout := c.byStream(Stdout)
	if len(stdout) != 2 {
		t.Fatalf("want 2 chunks, got %d", len(stdout))
	}

	first := stdout[0]
	assert.True(t, first.Truncated)
	assert.True(t, strings.HasSuffix(first.Data, TruncatedMarker+"\n"))
	assert.Equal(t, 8192+len(TruncatedMarker)+1, len(first.Data))

	// The line after the oversized one must arrive intact.
	assert.Equal(t, "next\n", stdout[1].Data)
	assert.False(t, stdout[1].Truncated)

	// Discarded remainder still counts toward the byte total.
	assert.Equal(t, int64(20001+5), outRes.Bytes)
}

func TestLineExactlyAtCapNotTruncated(t *testing.T) {
	t.Parallel()

	m := newTestMux(8192, 10<<20)
	var c collector

	// 8191 content bytes plus the newline fill the buffer exactly.
	line := strings.Repeat("a", 8191) + "\n"
	m.Pump(strings.NewReader(line), strings.NewReader(""), c.sink, nil)

	stdout := c.byStream(Stdout)
	if len(stdout) != 1 {
		t.Fatalf("want 1 chunk, got %d", len(stdout))
	}
	assert.False(t, stdout[0].Truncated)
	assert.Equal(t, line, stdout[0].Data)
}

func TestLineOneOverCapTruncated(t *testing.T) {
	t.Parallel()

	m := newTestMux(8192, 10<<20)
	var c collector

	line := strings.Repeat("a", 8192) + "\n"
	m.Pump(strings.NewReader(line), strings.NewReader(""), c.sink, nil)

	stdout := c.byStream(Stdout)
	if len(stdout) != 1 {
		t.Fatalf("want 1 chunk, got %d", len(stdout))
	}
	assert.True(t, stdout[0].Truncated)
}

func TestOverflowEmitsExactlyOneWarning(t *testing.T) {
	t.Parallel()

	m := newTestMux(8192, 100)
	var c collector

	// 30 lines of 10 bytes each: 10 fit under the cap, the rest drop.
	input := strings.Repeat("123456789\n", 30)
	outRes, _ := m.Pump(strings.NewReader(input), strings.NewReader(""), c.sink, nil)

	stdout := c.byStream(Stdout)
	warnings := 0
	data := 0
	for _, l := range stdout {
		if strings.Contains(l.Data, OverflowWarning) {
			warnings++
		} else {
			data++
		}
	}

	assert.Equal(t, 1, warnings, "the overflow warning must appear exactly once")
	assert.Equal(t, 10, data)
	assert.Equal(t, int64(20), outRes.Dropped)
	assert.Equal(t, int64(300), outRes.Bytes, "dropped lines still count toward the total")
}

func TestOverflowCapsAreIndependentPerStream(t *testing.T) {
	t.Parallel()

	m := newTestMux(8192, 100)
	var c collector

	over := strings.Repeat("123456789\n", 30)
	m.Pump(strings.NewReader(over), strings.NewReader("fine\n"), c.sink, nil)

	stderr := c.byStream(Stderr)
	assert.Len(t, stderr, 1)
	assert.Equal(t, "fine\n", stderr[0].Data)
}

func TestTotalsCallback(t *testing.T) {
	t.Parallel()

	m := newTestMux(8192, 10<<20)
	var c collector

	var mu sync.Mutex
	totals := map[string]int64{}
	totalsFn := func(stream string, delta int64) {
		mu.Lock()
		totals[stream] += delta
		mu.Unlock()
	}

	m.Pump(
		strings.NewReader("abc\ndefgh\n"),
		strings.NewReader("e\n"),
		c.sink, totalsFn,
	)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(10), totals[Stdout])
	assert.Equal(t, int64(2), totals[Stderr])
}

func TestInvalidUTF8Replaced(t *testing.T) {
	t.Parallel()

	m := newTestMux(8192, 10<<20)
	var c collector

	m.Pump(strings.NewReader("ok \xff\xfe bad\n"), strings.NewReader(""), c.sink, nil)

	stdout := c.byStream(Stdout)
	if len(stdout) != 1 {
		t.Fatalf("want 1 chunk, got %d", len(stdout))
	}
	assert.Contains(t, stdout[0].Data, "�")
	assert.NotContains(t, stdout[0].Data, "\xff")
}

func TestFinalPartialLineEmitted(t *testing.T) {
	t.Parallel()

	m := newTestMux(8192, 10<<20)
	var c collector

	m.Pump(strings.NewReader("complete\npartial"), strings.NewReader(""), c.sink, nil)

	stdout := c.byStream(Stdout)
	if len(stdout) != 2 {
		t.Fatalf("want 2 chunks, got %d", len(stdout))
	}
	assert.Equal(t, "partial", stdout[1].Data)
}

func TestEmptyStreams(t *testing.T) {
	t.Parallel()

	m := newTestMux(8192, 10<<20)
	var c collector

	outRes, errRes := m.Pump(strings.NewReader(""), strings.NewReader(""), c.sink, nil)
	assert.Empty(t, c.lines)
	assert.Equal(t, int64(0), outRes.Bytes)
	assert.Equal(t, int64(0), errRes.Bytes)
}
