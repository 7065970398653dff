// Package orchestrator drives one prompt through the official backends and
// the community pool, builds the conversation window and persists history.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hpn/hpn-g-relay/internal/adapter"
	"github.com/hpn/hpn-g-relay/internal/domain"
	"github.com/hpn/hpn-g-relay/internal/history"
	"github.com/hpn/hpn-g-relay/internal/ui"
)

const (
	// EmptyPromptReply is returned for a blank prompt.
	EmptyPromptReply = "Пустой запрос"

	// AnswerSeparator joins the answers of an all-mode run.
	AnswerSeparator = "\n\n==Другой ответ==\n\n"

	// DefaultPersona is the system prompt used when no role applies.
	DefaultPersona = "Ты полезный ассистент и даёшь только полезную информацию"

	// DefaultMaxPromptLength is the prompt cap in characters.
	DefaultMaxPromptLength = 4000

	// DefaultCommunityTimeout bounds each community call in the fast-mode race.
	DefaultCommunityTimeout = 120 * time.Second

	// defaultRoleName selects the default persona explicitly.
	defaultRoleName = "GPT"

	// truncationTail is how much of a cut prompt's end is logged.
	truncationTail = 50
)

// RacePolicy picks the fast-mode community winner.
type RacePolicy string

const (
	// FirstSuccess takes the first Success; when every provider fails the first completion wins.
	FirstSuccess RacePolicy = "first-success"
	// FirstCompletion takes whatever finishes first, even a failure.
	FirstCompletion RacePolicy = "first-completion"
)

// Request is one orchestrator invocation.
type Request struct {
	Prompt string
	Mode   domain.Mode
	UserID domain.UserID

	// Role overrides the default persona for identified users. "" and "GPT" keep it.
	Role string

	// Limited skips the official-token backend.
	Limited bool
}

// Orchestrator runs prompts across the configured backends.
// It is safe for concurrent use.
type Orchestrator struct {
	official  adapter.Provider
	token     adapter.Provider
	community []adapter.Provider

	store      history.Store
	persist    bool
	locks      *userLocks
	maxHistory int
	maxPrompt  int
	persona    string
	racePolicy RacePolicy

	officialOpts  adapter.CallOptions
	communityOpts adapter.CallOptions
	allOpts       adapter.CallOptions

	logger  *slog.Logger
	verbose bool
}

// Option is a functional option for configuring Orchestrator.
type Option func(*Orchestrator)

// WithOfficial sets the key-authenticated official backend.
func WithOfficial(p adapter.Provider) Option {
	return func(o *Orchestrator) {
		o.official = p
	}
}

// WithToken sets the token-authenticated official backend.
func WithToken(p adapter.Provider) Option {
	return func(o *Orchestrator) {
		o.token = p
	}
}

// WithCommunity sets the community pool. Order is kept in all-mode output.
func WithCommunity(providers ...adapter.Provider) Option {
	return func(o *Orchestrator) {
		o.community = append([]adapter.Provider(nil), providers...)
	}
}

// WithHistory enables persistence into store for identified users.
func WithHistory(store history.Store) Option {
	return func(o *Orchestrator) {
		o.store = store
		o.persist = store != nil
	}
}

// WithMaxHistoryLength sets the history cap in characters.
func WithMaxHistoryLength(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxHistory = n
		}
	}
}

// WithMaxPromptLength sets the prompt cap in characters.
func WithMaxPromptLength(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxPrompt = n
		}
	}
}

// WithPersona replaces the default system prompt.
func WithPersona(persona string) Option {
	return func(o *Orchestrator) {
		if persona != "" {
			o.persona = persona
		}
	}
}

// WithRacePolicy selects the fast-mode community race policy.
func WithRacePolicy(p RacePolicy) Option {
	return func(o *Orchestrator) {
		o.racePolicy = p
	}
}

// WithOfficialCallOptions sets timeout and failure delay for the official backends.
func WithOfficialCallOptions(opts adapter.CallOptions) Option {
	return func(o *Orchestrator) {
		o.officialOpts = opts
	}
}

// WithCommunityCallOptions sets timeout and failure delay for the fast-mode race.
func WithCommunityCallOptions(opts adapter.CallOptions) Option {
	return func(o *Orchestrator) {
		o.communityOpts = opts
	}
}

// WithAllModeCallOptions sets timeout and failure delay for all-mode calls.
func WithAllModeCallOptions(opts adapter.CallOptions) Option {
	return func(o *Orchestrator) {
		o.allOpts = opts
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithVerbose echoes every intermediate prompt and result to the console.
func WithVerbose(verbose bool) Option {
	return func(o *Orchestrator) {
		o.verbose = verbose
	}
}

// New creates an Orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		maxHistory:    domain.DefaultMaxHistoryLength,
		maxPrompt:     DefaultMaxPromptLength,
		persona:       DefaultPersona,
		racePolicy:    FirstSuccess,
		officialOpts:  adapter.CallOptions{Timeout: adapter.DefaultTimeout},
		communityOpts: adapter.CallOptions{Timeout: DefaultCommunityTimeout},
		allOpts:       adapter.CallOptions{Timeout: adapter.DefaultTimeout},
		locks:         newUserLocks(),
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Run answers req. Only ErrNoModeSelected is returned as an error; a run
// where no backend produced usable text returns "" and leaves history untouched.
// Runs for the same user may overlap; each one's exchange is appended to
// whatever history is stored when it finishes.
func (o *Orchestrator) Run(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		observeRun(req.Mode, resultEmpty)
		return EmptyPromptReply, nil
	}
	if req.Mode != domain.ModeFast && req.Mode != domain.ModeAll {
		o.logger.Error("no GPT mode selected", slog.String("mode", string(req.Mode)))
		observeRun(req.Mode, resultBadMode)
		return "", domain.ErrNoModeSelected
	}

	o.logger.Info("run started",
		slog.String("mode", string(req.Mode)),
		slog.String("user_id", string(req.UserID)),
		slog.Bool("limited", req.Limited),
	)

	prompt := o.truncate(req.Prompt)
	if o.verbose {
		ui.PrintPrompt(string(req.UserID), string(req.Mode), prompt)
	}

	hist := o.load(ctx, req.UserID)
	turns := domain.Trim(hist.Append(domain.RoleUser, prompt), o.maxHistory)
	window := o.window(turns, req)

	var answer, remembered string
	switch req.Mode {
	case domain.ModeFast:
		if out := o.fast(ctx, window, prompt, req.Limited); out.OK() {
			answer, remembered = out.Text, out.Text
		}
	case domain.ModeAll:
		answer, remembered = o.all(ctx, window, req.Limited)
	}

	if remembered == "" {
		o.logger.Warn("no provider produced an answer", slog.String("mode", string(req.Mode)))
		observeRun(req.Mode, resultNoAnswer)
		return "", nil
	}

	o.commit(ctx, req.UserID, prompt, remembered)
	observeRun(req.Mode, resultAnswered)
	return answer, nil
}

// ClearHistory forgets the conversation of userID.
func (o *Orchestrator) ClearHistory(ctx context.Context, userID domain.UserID) error {
	if o.store == nil || userID.IsAnonymous() {
		return nil
	}
	return o.store.Clear(ctx, userID)
}

// HistoryCount returns the number of stored histories, or 0 when history is disabled.
func (o *Orchestrator) HistoryCount(ctx context.Context) (int, error) {
	if !o.persist {
		return 0, nil
	}
	return o.store.Count(ctx)
}

// truncate cuts prompt to the configured length and logs the kept tail.
func (o *Orchestrator) truncate(prompt string) string {
	total := utf8.RuneCountInString(prompt)
	if total <= o.maxPrompt {
		return prompt
	}

	runes := []rune(prompt)[:o.maxPrompt]
	tailStart := len(runes) - truncationTail
	if tailStart < 0 {
		tailStart = 0
	}
	o.logger.Warn("prompt truncated",
		slog.Int("length", total),
		slog.Int("limit", o.maxPrompt),
		slog.String("tail", string(runes[tailStart:])),
	)
	if o.verbose {
		ui.PrintTruncated(o.maxPrompt, total-o.maxPrompt)
	}
	return string(runes)
}

// window prepends the system prompt to the trimmed turns.
func (o *Orchestrator) window(turns domain.History, req Request) []domain.ConversationTurn {
	system := o.persona
	if req.Role != "" && req.Role != defaultRoleName && !req.UserID.IsAnonymous() {
		system = req.Role
	}

	out := make([]domain.ConversationTurn, 0, len(turns)+1)
	out = append(out, domain.ConversationTurn{Role: domain.RoleSystem, Content: system})
	return append(out, turns...)
}

func (o *Orchestrator) load(ctx context.Context, userID domain.UserID) domain.History {
	if !o.persist || userID.IsAnonymous() {
		return domain.History{}
	}
	h, err := o.store.Load(ctx, userID)
	if err != nil {
		o.logger.Error("failed to load history",
			slog.String("user_id", string(userID)),
			slog.String("error", err.Error()),
		)
		return domain.History{}
	}
	return h
}

// commit appends one exchange to the stored history of userID. The history
// is reloaded under a per-user lock so concurrent runs for the same user
// all keep their turns.
func (o *Orchestrator) commit(ctx context.Context, userID domain.UserID, prompt, answer string) {
	if !o.persist || userID.IsAnonymous() {
		return
	}

	unlock := o.locks.lock(userID)
	defer unlock()

	hist, err := o.store.Load(ctx, userID)
	if err != nil {
		o.logger.Error("failed to load history, exchange not saved",
			slog.String("user_id", string(userID)),
			slog.String("error", err.Error()),
		)
		return
	}
	h := domain.Trim(hist.Append(domain.RoleUser, prompt), o.maxHistory).
		Append(domain.RoleAssistant, answer)
	if err := o.store.Save(ctx, userID, h); err != nil {
		o.logger.Error("failed to save history",
			slog.String("user_id", string(userID)),
			slog.String("error", err.Error()),
		)
	}
}

// invoke calls p and records the outcome.
func (o *Orchestrator) invoke(ctx context.Context, p adapter.Provider, window []domain.ConversationTurn, opts adapter.CallOptions) domain.ProviderOutcome {
	out := p.Invoke(ctx, window, opts)
	observeOutcome(out)

	o.logger.Debug("provider finished",
		slog.String("provider", out.Provider),
		slog.String("outcome", out.Kind.String()),
		slog.Duration("latency", out.Latency),
	)
	if o.verbose {
		detail := out.Text
		if !out.OK() {
			detail = out.Reason
		}
		ui.PrintOutcome(out.Provider, out.Kind.String(), detail, out.Latency)
	}
	return out
}
