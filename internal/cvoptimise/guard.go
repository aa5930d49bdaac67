package cvoptimise

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindValidation      Kind = "validation"
	KindDuplicate       Kind = "duplicate"
	KindCooldown        Kind = "cooldown"
	KindQuota           Kind = "quota"
	KindInFlight        Kind = "in_flight"
)

// GuardError is a request rejected before reaching the analyser.
type GuardError struct {
	Kind       Kind
	Field      string
	Message    string
	RetryAfter time.Duration
}

func (e *GuardError) Error() string {
	return e.Message
}

// RetryAfterSeconds rounds the remaining wait up to whole seconds.
func (e *GuardError) RetryAfterSeconds() int {
	ms := e.RetryAfter.Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}

type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateBlocked    State = "blocked"
	StateCalling    State = "calling"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Fingerprint identifies the last successful analysis of a user.
type Fingerprint struct {
	CVHash string    `json:"cv_hash"`
	JDHash string    `json:"jd_hash"`
	At     time.Time `json:"at"`
}

func NewFingerprint(cvText, jobDescription string, at time.Time) Fingerprint {
	return Fingerprint{CVHash: hash(cvText), JDHash: hash(jobDescription), At: at.UTC()}
}

func (f Fingerprint) Matches(cvText, jobDescription string) bool {
	return f.CVHash == hash(cvText) && f.JDHash == hash(jobDescription)
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

type FingerprintStore interface {
	Get(ctx context.Context, userID string) (Fingerprint, bool, error)
	Put(ctx context.Context, userID string, f Fingerprint) error
}

type GuardConfig struct {
	CVMinLength             int
	JobDescriptionMinLength int
	Cooldown                time.Duration
	DailyQuota              int
}

var DefaultGuardConfig = GuardConfig{
	CVMinLength:             200,
	JobDescriptionMinLength: 50,
	Cooldown:                20 * time.Second,
	DailyQuota:              20,
}

const (
	// an admitted request that never reports back stops blocking its user
	// after inFlightTimeout
	inFlightTimeout = 2 * time.Minute
	sweepInterval   = time.Hour
)

// userState is what the guard remembers about one user in this process.
type userState struct {
	state   State
	since   time.Time
	limiter *rate.Limiter
}

type Guard struct {
	cfg   GuardConfig
	store FingerprintStore
	log   zerolog.Logger
	now   func() time.Time

	mu        sync.Mutex
	users     map[string]*userState
	lastSweep time.Time
}

func NewGuard(cfg GuardConfig, store FingerprintStore, log zerolog.Logger) *Guard {
	return &Guard{
		cfg:   cfg,
		store: store,
		log:   log,
		now:   time.Now,
		users: make(map[string]*userState),
	}
}

// Check runs the admission rules in order and returns a *GuardError for the
// first one that fails. Store failures are returned as they are. A nil return
// admits the request and the caller must then report back with RecordSuccess
// or RecordFailure; until it does, further requests of the same user are
// rejected as in flight.
func (g *Guard) Check(ctx context.Context, userID, cvText, jobDescription string) error {
	id, err := uuid.Parse(strings.TrimSpace(userID))
	if err != nil {
		return &GuardError{Kind: KindUnauthenticated, Message: "Please sign in to optimise your CV."}
	}
	userID = id.String()
	if !g.begin(userID) {
		g.log.Info().Str("user_id", userID).Str("kind", string(KindInFlight)).Msg("cv optimisation blocked")
		return &GuardError{
			Kind:    KindInFlight,
			Message: "Your previous CV analysis is still running, please wait for it to finish.",
		}
	}

	if n := utf8.RuneCountInString(strings.TrimSpace(cvText)); n < g.cfg.CVMinLength {
		return g.block(userID, &GuardError{
			Kind:    KindValidation,
			Field:   "cv_text",
			Message: fmt.Sprintf("Your CV must be at least %d characters long (currently %d).", g.cfg.CVMinLength, n),
		})
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(jobDescription)); n < g.cfg.JobDescriptionMinLength {
		return g.block(userID, &GuardError{
			Kind:    KindValidation,
			Field:   "job_description",
			Message: fmt.Sprintf("The job description must be at least %d characters long (currently %d).", g.cfg.JobDescriptionMinLength, n),
		})
	}

	now := g.now()
	last, ok, err := g.store.Get(ctx, userID)
	if err != nil {
		g.setState(userID, StateIdle)
		return err
	}
	if ok {
		if last.Matches(cvText, jobDescription) {
			return g.block(userID, &GuardError{
				Kind:    KindDuplicate,
				Message: "You have already analysed this exact CV and job description.",
			})
		}
		if elapsed := now.Sub(last.At); elapsed < g.cfg.Cooldown {
			ge := &GuardError{Kind: KindCooldown, RetryAfter: g.cfg.Cooldown - elapsed}
			ge.Message = fmt.Sprintf("Please wait %d seconds before running another analysis.", ge.RetryAfterSeconds())
			return g.block(userID, ge)
		}
	}

	if wait, allowed := g.takeQuota(userID, now); !allowed {
		return g.block(userID, &GuardError{
			Kind:       KindQuota,
			Message:    fmt.Sprintf("You have used all %d CV analyses for today.", g.cfg.DailyQuota),
			RetryAfter: wait,
		})
	}

	g.setState(userID, StateCalling)
	return nil
}

// begin moves the user to validating unless one of their requests is already
// being validated or analysed.
func (g *Guard) begin(userID string) bool {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweep(now)
	u := g.user(userID)
	if busy(u.state) && now.Sub(u.since) < inFlightTimeout {
		return false
	}
	u.state, u.since = StateValidating, now
	return true
}

func busy(s State) bool {
	return s == StateValidating || s == StateCalling
}

// sweep forgets users with nothing running and a full quota bucket, they are
// indistinguishable from users never seen. Callers hold g.mu.
func (g *Guard) sweep(now time.Time) {
	if now.Sub(g.lastSweep) < sweepInterval {
		return
	}
	g.lastSweep = now
	for id, u := range g.users {
		if busy(u.state) && now.Sub(u.since) < inFlightTimeout {
			continue
		}
		if u.limiter != nil && u.limiter.TokensAt(now) < float64(u.limiter.Burst()) {
			continue
		}
		delete(g.users, id)
	}
}

// user returns the state of userID, creating it. Callers hold g.mu.
func (g *Guard) user(userID string) *userState {
	u, ok := g.users[userID]
	if !ok {
		u = &userState{state: StateIdle}
		g.users[userID] = u
	}
	return u
}

// takeQuota spends one analysis from the user's daily bucket. When the bucket
// is empty it reports how long until the next token.
func (g *Guard) takeQuota(userID string, now time.Time) (time.Duration, bool) {
	if g.cfg.DailyQuota <= 0 {
		return 0, true
	}
	g.mu.Lock()
	u := g.user(userID)
	if u.limiter == nil {
		u.limiter = rate.NewLimiter(rate.Every(24*time.Hour/time.Duration(g.cfg.DailyQuota)), g.cfg.DailyQuota)
	}
	lim := u.limiter
	g.mu.Unlock()

	if lim.AllowN(now, 1) {
		return 0, true
	}
	r := lim.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return wait, false
}

// RecordSuccess stores the fingerprint of a completed analysis.
func (g *Guard) RecordSuccess(ctx context.Context, userID, cvText, jobDescription string, at time.Time) error {
	userID = canonicalUser(userID)
	err := g.store.Put(ctx, userID, NewFingerprint(cvText, jobDescription, at))
	g.setState(userID, StateDone)
	return err
}

// RecordFailure leaves the fingerprint alone so the same input can be retried.
func (g *Guard) RecordFailure(userID string) {
	g.setState(canonicalUser(userID), StateFailed)
}

func (g *Guard) State(userID string) State {
	userID = canonicalUser(userID)
	g.mu.Lock()
	defer g.mu.Unlock()
	if u, ok := g.users[userID]; ok {
		return u.state
	}
	return StateIdle
}

func canonicalUser(userID string) string {
	userID = strings.TrimSpace(userID)
	if id, err := uuid.Parse(userID); err == nil {
		return id.String()
	}
	return userID
}

func (g *Guard) block(userID string, ge *GuardError) *GuardError {
	g.setState(userID, StateBlocked)
	g.log.Info().Str("user_id", userID).Str("kind", string(ge.Kind)).Msg("cv optimisation blocked")
	return ge
}

func (g *Guard) setState(userID string, s State) {
	now := g.now()
	g.mu.Lock()
	u := g.user(userID)
	u.state, u.since = s, now
	g.mu.Unlock()
}

// MemoryStore keeps fingerprints in process.
type MemoryStore struct {
	mu   sync.Mutex
	last map[string]Fingerprint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{last: make(map[string]Fingerprint)}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (Fingerprint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.last[userID]
	return f, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, userID string, f Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[userID] = f
	return nil
}
