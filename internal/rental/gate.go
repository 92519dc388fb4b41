package rental

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/evcraddock/rent-finder/internal/identity"
)

// ErrNoAccess is reported for a session that does not exist or that the
// identity may not join. The two cases are deliberately indistinguishable.
var ErrNoAccess = errors.New("session not found or no access")

// GateState is the membership gate's progress for one session.
type GateState string

const (
	GateChecking        GateState = "checking"
	GateUnauthenticated GateState = "unauthenticated"
	GateEnrolling       GateState = "enrolling"
	GateGranted         GateState = "granted"
	GateDenied          GateState = "denied"
)

// Terminal reports whether the gate will never leave this state.
func (s GateState) Terminal() bool {
	return s == GateGranted || s == GateDenied
}

// Loading reports whether a view should show a loading indicator.
func (s GateState) Loading() bool {
	return s == GateChecking || s == GateEnrolling
}

// Gate decides whether the current identity may use a session, enrolling it
// as a member when it is not one yet. All transitions happen on a single
// goroutine started by Start; identity changes re-trigger the check.
type Gate struct {
	env       Env
	sessionID string
	writer    *Writer

	kick     chan struct{}
	terminal chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc

	mu         sync.Mutex
	state      GateState
	identityID string
	listeners  map[int]func(GateState)
	nextID     int
	requested  bool
	started    bool
}

// NewGate creates a gate for one session. Call Start to run it.
func NewGate(env Env, sessionID string) *Gate {
	return &Gate{
		env:       env,
		sessionID: sessionID,
		writer:    NewWriter(env),
		kick:      make(chan struct{}, 1),
		terminal:  make(chan struct{}),
		done:      make(chan struct{}),
		state:     GateChecking,
		listeners: make(map[int]func(GateState)),
	}
}

// SessionID returns the gated session.
func (g *Gate) SessionID() string {
	return g.sessionID
}

// State returns the current state.
func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// IdentityID returns the identity the current state applies to.
func (g *Gate) IdentityID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.identityID
}

// Err returns ErrNoAccess once the gate is denied, nil otherwise.
func (g *Gate) Err() error {
	if g.State() == GateDenied {
		return ErrNoAccess
	}
	return nil
}

// OnChange registers fn to be called on the gate goroutine after every
// transition. The returned function removes it.
func (g *Gate) OnChange(fn func(GateState)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := g.nextID
	g.listeners[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.listeners, id)
	}
}

// Start runs the gate until it reaches a terminal state, ctx is done, or
// Stop is called. Calling Start more than once has no effect.
func (g *Gate) Start(ctx context.Context) {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	ctx, g.cancel = context.WithCancel(ctx)
	g.mu.Unlock()

	stopAuth := g.env.Auth.OnChange(func(identity.State) { g.trigger() })
	g.trigger()

	go func() {
		defer close(g.done)
		defer stopAuth()
		for {
			select {
			case <-ctx.Done():
				return
			case <-g.kick:
				g.step(ctx)
				if g.State().Terminal() {
					return
				}
			}
		}
	}()
}

// Stop ends the gate without waiting for it to finish a step.
func (g *Gate) Stop() {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed when the gate goroutine has exited.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the gate is granted or denied, or ctx is done.
func (g *Gate) Wait(ctx context.Context) (GateState, error) {
	select {
	case <-g.terminal:
		return g.State(), nil
	case <-ctx.Done():
		return g.State(), ctx.Err()
	}
}

func (g *Gate) trigger() {
	select {
	case g.kick <- struct{}{}:
	default:
	}
}

// step runs one pass of the state machine for the current identity.
func (g *Gate) step(ctx context.Context) {
	if g.State().Terminal() {
		return
	}

	auth := g.env.Auth.State()
	if auth.Identity == nil {
		g.transition(GateUnauthenticated, "")
		g.mu.Lock()
		request := !g.requested && !auth.Loading
		g.requested = g.requested || request
		g.mu.Unlock()
		if request {
			g.env.Auth.SignInAnonymously()
		}
		return
	}

	ident := auth.Identity
	g.transition(GateChecking, ident.ID)
	docs := g.env.Docs(ident.ID)
	path := SessionPath(g.sessionID)

	doc, err := docs.Get(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Debug("session read failed", "session", g.sessionID, "error", err)
		g.transition(GateDenied, ident.ID)
		return
	}
	session, err := decodeSession(doc)
	if err != nil {
		slog.Warn("malformed session", "session", g.sessionID, "error", err)
		g.transition(GateDenied, ident.ID)
		return
	}
	if session.IsMember(ident.ID) {
		g.transition(GateGranted, ident.ID)
		return
	}

	g.transition(GateEnrolling, ident.ID)
	result, err := g.writer.enrollAs(ident, docs, g.sessionID).Wait(ctx)
	if err != nil {
		return
	}
	if result.OK() {
		g.transition(GateGranted, ident.ID)
		return
	}

	slog.Debug("enrollment rejected, re-checking membership", "session", g.sessionID, "error", result.Err)
	doc, err = docs.Get(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		g.transition(GateDenied, ident.ID)
		return
	}
	if session, err := decodeSession(doc); err == nil && session.IsMember(ident.ID) {
		g.transition(GateGranted, ident.ID)
		return
	}
	g.transition(GateDenied, ident.ID)
}

func (g *Gate) transition(state GateState, identityID string) {
	g.mu.Lock()
	if g.state == state && g.identityID == identityID {
		g.mu.Unlock()
		return
	}
	g.state = state
	g.identityID = identityID
	fns := make([]func(GateState), 0, len(g.listeners))
	for _, fn := range g.listeners {
		fns = append(fns, fn)
	}
	g.mu.Unlock()

	if state.Terminal() {
		g.env.Metrics.GateOutcome(string(state))
		close(g.terminal)
	}
	for _, fn := range fns {
		fn(state)
	}
}
