package quiz

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultRetryMultiplier bounds attempts to this many passes over the windows.
const DefaultRetryMultiplier = 2

var (
	// ErrInvalidTarget is returned when the requested question count is not positive.
	ErrInvalidTarget = errors.New("target count must be positive")
	// ErrNoAllowedTypes is returned when the allow-list is empty.
	ErrNoAllowedTypes = errors.New("at least one question type must be allowed")
)

// Generator returns free text expected to contain a JSON array of questions.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Request describes one accumulation run.
type Request struct {
	Windows    []string
	Types      []Type
	Target     int
	Difficulty string
}

// Result is the outcome of a run. Fewer questions than Target is a partial
// success, not an error.
type Result struct {
	Questions     []Question
	Allowed       []Type
	Target        int
	Attempts      int
	Budget        int
	FailedCalls   int
	FailedParses  int
	Rejected      int
	ContextExpiry bool
}

// Short reports whether the run ended before reaching its target.
func (r *Result) Short() bool {
	return len(r.Questions) < r.Target
}

// Accumulator collects unique, allowed questions from a Generator by cycling
// through text windows until a target count or an attempt budget is reached.
type Accumulator struct {
	gen        Generator
	multiplier int
	budget     int
	prompt     PromptFunc
	logger     zerolog.Logger
}

type Option func(*Accumulator)

// WithRetryMultiplier sets attempts per window. Values below 1 are ignored.
func WithRetryMultiplier(n int) Option {
	return func(a *Accumulator) {
		if n > 0 {
			a.multiplier = n
		}
	}
}

// WithAttemptBudget fixes the total attempt budget, overriding the multiplier.
func WithAttemptBudget(n int) Option {
	return func(a *Accumulator) {
		if n > 0 {
			a.budget = n
		}
	}
}

func WithPrompt(fn PromptFunc) Option {
	return func(a *Accumulator) {
		if fn != nil {
			a.prompt = fn
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Accumulator) {
		a.logger = l
	}
}

func NewAccumulator(gen Generator, opts ...Option) *Accumulator {
	a := &Accumulator{
		gen:        gen,
		multiplier: DefaultRetryMultiplier,
		prompt:     LecturePrompt,
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Budget returns the number of attempts allowed for the given window count.
func (a *Accumulator) Budget(windows int) int {
	if a.budget > 0 {
		return a.budget
	}
	return windows * a.multiplier
}

// Accumulate runs the bounded generation loop. Only structurally invalid
// requests return an error; per-attempt failures are logged and skipped.
func (a *Accumulator) Accumulate(ctx context.Context, req Request) (*Result, error) {
	if req.Target <= 0 {
		return nil, ErrInvalidTarget
	}
	allowed := NewTypeSet(req.Types...)
	if allowed.Len() == 0 {
		return nil, ErrNoAllowedTypes
	}

	res := &Result{Target: req.Target, Allowed: allowed.Types(), Questions: []Question{}}
	if len(req.Windows) == 0 {
		return res, nil
	}
	res.Budget = a.Budget(len(req.Windows))

	col := newCollector(allowed, req.Target, req.Difficulty)
	windowIndex := 0

	for !col.full() && res.Attempts < res.Budget {
		if err := ctx.Err(); err != nil {
			res.ContextExpiry = true
			a.logger.Warn().Err(err).Int("attempts", res.Attempts).Msg("question accumulation stopped by context")
			break
		}

		slot := windowIndex % len(req.Windows)
		window := req.Windows[slot]
		windowIndex++
		res.Attempts++

		raw, err := a.gen.Generate(ctx, a.prompt(window, req.Difficulty, allowed))
		if err != nil {
			res.FailedCalls++
			a.logger.Warn().Err(err).Int("window", slot+1).Int("windows", len(req.Windows)).Msg("question generation failed")
			continue
		}

		candidates, dropped, err := ParseCandidates(raw)
		if err != nil {
			res.FailedParses++
			a.logger.Warn().Err(err).Int("window", slot+1).Msg("could not parse generated questions")
			continue
		}
		res.Rejected += dropped

		added, rejected := col.addAll(candidates)
		res.Rejected += rejected

		a.logger.Debug().
			Int("window", slot+1).
			Int("added", added).
			Int("total", len(col.questions)).
			Int("target", req.Target).
			Msg("accumulated questions")
	}

	res.Questions = col.questions
	if res.Short() {
		a.logger.Warn().
			Int("generated", len(res.Questions)).
			Int("target", req.Target).
			Int("attempts", res.Attempts).
			Msg("question target not reached")
	}
	return res, nil
}

// collector holds the accepted questions of one run and the normalized texts
// already seen.
type collector struct {
	allowed    TypeSet
	target     int
	difficulty string
	seen       map[string]struct{}
	questions  []Question
}

func newCollector(allowed TypeSet, target int, difficulty string) *collector {
	return &collector{
		allowed:    allowed,
		target:     target,
		difficulty: difficulty,
		seen:       make(map[string]struct{}, target),
		questions:  []Question{},
	}
}

func (c *collector) full() bool {
	return len(c.questions) >= c.target
}

// addAll accepts candidates in order until the target is reached. Candidates
// left over once the collector is full are neither added nor rejected.
func (c *collector) addAll(candidates []Candidate) (added, rejected int) {
	for _, cand := range candidates {
		if c.full() {
			break
		}
		q, err := cand.Validate(c.allowed)
		if err != nil {
			rejected++
			continue
		}
		key := Normalize(q.Question)
		if _, dup := c.seen[key]; dup {
			rejected++
			continue
		}
		c.seen[key] = struct{}{}
		if q.Difficulty == "" {
			q.Difficulty = c.difficulty
		}
		c.questions = append(c.questions, q)
		added++
	}
	return added, rejected
}

// Select applies the accumulator's acceptance rules to a single batch of
// candidates: allowed types only, no duplicate question text, at most target
// items, missing difficulty filled in.
func Select(candidates []Candidate, types []Type, target int, difficulty string) ([]Question, error) {
	if target <= 0 {
		return nil, ErrInvalidTarget
	}
	allowed := NewTypeSet(types...)
	if allowed.Len() == 0 {
		return nil, ErrNoAllowedTypes
	}
	col := newCollector(allowed, target, difficulty)
	col.addAll(candidates)
	return col.questions, nil
}
