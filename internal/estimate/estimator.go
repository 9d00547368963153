package estimate

import (
	"context"
	"log/slog"
	"time"
)

// Estimation methods, in fallback order.
const (
	MethodExplicit   = "explicit"
	MethodHistorical = "historical"
	MethodSimilarity = "similarity"
	MethodToken      = "token_calculation"
)

const (
	// defaultMinimum is the floor for token-calculated deadlines. Unknown
	// prompts get generous timeouts so they fail for real reasons, not
	// impatience.
	defaultMinimum = 90 * time.Second

	// maximum caps any computed deadline.
	maximum = 30 * time.Minute

	// historicalFloor is the minimum deadline the history tiers may produce.
	historicalFloor = 60 * time.Second

	// startupOverhead covers CLI process startup before tokens flow.
	startupOverhead = 30 * time.Second

	// minHistorySamples is how many prior runs the exact-match tier needs.
	minHistorySamples = 3

	// minSimilarMatches is how many lookalikes the similarity tier needs.
	minSimilarMatches = 2

	// topSimilar is how many best matches feed the similarity average.
	topSimilar = 3

	// loadThreshold is the CPU percentage above which deadlines stretch.
	loadThreshold = 14.0

	// loadMultiplier is the stretch factor applied under load.
	loadMultiplier = 3.0

	// stallConfident is the no-output window when history answered with
	// confidence; stallDefault applies otherwise.
	stallConfident = 30 * time.Second
	stallDefault   = 120 * time.Second
)

// complexityBuffers pad the token-calculated time for uncertainty.
var complexityBuffers = map[string]float64{
	ComplexitySimple:  1.2,
	ComplexityMedium:  1.5,
	ComplexityComplex: 2.0,
}

// Estimate is a deadline decision: the total execution timeout, the
// companion no-output stall window, and how the numbers were reached. The
// two windows are independent; callers track them separately.
type Estimate struct {
	Timeout    time.Duration  `json:"-"`
	Stall      time.Duration  `json:"-"`
	Method     string         `json:"method"`
	Confidence float64        `json:"confidence"`
	Samples    int            `json:"samples,omitempty"`
	Model      string         `json:"model,omitempty"`
	Tokens     *TokenEstimate `json:"tokens,omitempty"`
}

// Seconds returns the timeout in whole seconds, for wire payloads.
func (e Estimate) Seconds() int {
	return int(e.Timeout / time.Second)
}

// Estimator picks execution deadlines. Tiers are tried in order: an explicit
// caller timeout, exact command history, similar-command history, then a
// token-throughput model.
type Estimator struct {
	history HistoryStore
	probe   LoadProbe
	logger  *slog.Logger
}

// New creates an Estimator. history and probe may be nil, which disables the
// corresponding tiers.
func New(store HistoryStore, probe LoadProbe, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{
		history: store,
		probe:   probe,
		logger:  logger.With("component", "estimate"),
	}
}

// Estimate decides the deadline and stall window for a command. explicit and
// explicitStall are caller-supplied overrides; zero means unset.
func (e *Estimator) Estimate(ctx context.Context, command string, explicit, explicitStall time.Duration) Estimate {
	cls := Classify(command)

	est := e.pickTimeout(ctx, command, cls, explicit)
	est.Stall = e.pickStall(est, explicitStall)

	e.logger.Debug("Estimated timeout", "method", est.Method,
		"timeout", est.Timeout, "stall", est.Stall,
		"confidence", est.Confidence, "category", cls.Category,
		"complexity", cls.Complexity)
	return est
}

func (e *Estimator) pickTimeout(ctx context.Context, command string, cls Classification, explicit time.Duration) Estimate {
	if explicit > 0 {
		return Estimate{Timeout: explicit, Method: MethodExplicit, Confidence: 1.0}
	}

	if e.history != nil {
		if est, ok := e.fromHistory(ctx, command); ok {
			return est
		}
		if est, ok := e.fromSimilar(ctx, command); ok {
			return est
		}
	}

	return e.fromTokens(ctx, command, cls)
}

// fromHistory consults prior runs of the exact same command. With enough
// samples the deadline is the worst observed time plus half again.
func (e *Estimator) fromHistory(ctx context.Context, command string) (Estimate, bool) {
	stats, err := e.history.TaskStats(ctx, command)
	if err != nil {
		e.logger.Warn("History lookup failed", "error", err)
		return Estimate{}, false
	}
	if stats == nil || stats.Samples < minHistorySamples {
		return Estimate{}, false
	}

	timeout := secondsDuration(stats.MaxDuration * 1.5)
	if timeout < historicalFloor {
		timeout = historicalFloor
	}
	confidence := float64(stats.Samples) / 10
	if confidence > 1.0 {
		confidence = 1.0
	}
	return Estimate{
		Timeout:    timeout,
		Method:     MethodHistorical,
		Confidence: confidence,
		Samples:    stats.Samples,
	}, true
}

// fromSimilar averages the best keyword matches and doubles the result; the
// wider buffer reflects the looser evidence.
func (e *Estimator) fromSimilar(ctx context.Context, command string) (Estimate, bool) {
	similar, err := e.history.SimilarTasks(ctx, command, topSimilar)
	if err != nil {
		e.logger.Warn("Similarity lookup failed", "error", err)
		return Estimate{}, false
	}
	if len(similar) < minSimilarMatches {
		return Estimate{}, false
	}

	var sum float64
	for _, s := range similar {
		sum += s.Duration
	}
	avg := sum / float64(len(similar))

	timeout := secondsDuration(avg * 2)
	if timeout < historicalFloor {
		timeout = historicalFloor
	}
	return Estimate{
		Timeout:    timeout,
		Method:     MethodSimilarity,
		Confidence: 0.7,
		Samples:    len(similar),
	}, true
}

// fromTokens budgets the deadline from token throughput: input plus
// acknowledgment plus estimated output tokens over the model's generation
// rate, padded for startup and uncertainty, stretched under system load.
func (e *Estimator) fromTokens(ctx context.Context, command string, cls Classification) Estimate {
	tokens := estimateTokens(command, cls)
	model := detectModel(command)

	rate, ok := tokenRates[model]
	if !ok {
		rate = tokenRates["default"]
	}
	tokenTime := time.Duration(float64(tokens.Total) / rate * float64(time.Second))

	buffer, ok := complexityBuffers[cls.Complexity]
	if !ok {
		buffer = complexityBuffers[ComplexityMedium]
	}
	calculated := time.Duration(float64(startupOverhead+tokenTime) * buffer)

	if e.probe != nil {
		if cpuPct, err := e.probe.CPUPercent(ctx); err == nil && cpuPct > loadThreshold {
			e.logger.Info("System load high, stretching timeout",
				"cpu_percent", cpuPct, "multiplier", loadMultiplier)
			calculated = time.Duration(float64(calculated) * loadMultiplier)
		}
	}

	timeout := calculated
	if timeout < defaultMinimum {
		timeout = defaultMinimum
	}
	if timeout > maximum {
		timeout = maximum
	}

	return Estimate{
		Timeout:    timeout,
		Method:     MethodToken,
		Confidence: 0.5,
		Model:      model,
		Tokens:     &tokens,
	}
}

// pickStall chooses the no-output window. Known command shapes tolerate a
// tight window; anything uncertain gets a generous one so a model composing
// a long answer is not shot mid-thought.
func (e *Estimator) pickStall(est Estimate, explicitStall time.Duration) time.Duration {
	if explicitStall > 0 {
		return explicitStall
	}
	if est.Method == MethodHistorical && est.Confidence > 0.5 {
		return stallConfident
	}
	return stallDefault
}

func secondsDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
