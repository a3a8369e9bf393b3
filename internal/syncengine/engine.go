// Package syncengine keeps the local store, the in-memory view and the remote
// change feed consistent. Every mutation runs as one step on a single
// reconciliation goroutine; steps never interleave.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/feed"
	"github.com/iksnae/chatsync/internal/remote"
	"github.com/iksnae/chatsync/internal/store"
	"github.com/iksnae/chatsync/internal/view"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotStarted is returned by operations issued before Start
	ErrNotStarted = errors.New("sync engine not started")
	// ErrStopped is returned by operations issued after Teardown
	ErrStopped = errors.New("sync engine stopped")
	// ErrNoRemote is returned by SyncWithRemote without a remote source or user
	ErrNoRemote = errors.New("no remote source configured")
)

// ChangeFeed is the realtime feed the engine subscribes to. *feed.Client
// implements it.
type ChangeFeed interface {
	Subscribe(ctx context.Context, topic string, filter feed.Filter, handler feed.Handler, onStatus feed.StatusFunc) (feed.Handle, error)
	Unsubscribe(ctx context.Context, h feed.Handle) error
	OnConnectivityChange(cb feed.ConnectivityFunc)
	Connected() bool
}

// RemoteSource fetches authoritative records. *remote.Client implements it.
type RemoteSource interface {
	ListSessions(ctx context.Context, userID string) ([]*internal.ChatSession, error)
	ListMessages(ctx context.Context, sessionID string) ([]internal.Message, error)
}

// Level is the severity of a notification
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

// Notifier receives user-facing notices. It is never used for control flow.
type Notifier interface {
	Notify(level Level, message string)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(Level, string)

// Notify calls f
func (f NotifierFunc) Notify(level Level, message string) {
	f(level, message)
}

// Checkpointer records the outcome of a successful resync.
// *internal.StateFile implements it.
type Checkpointer interface {
	SaveCheckpoint(cp internal.Checkpoint) error
}

// Options wires the engine to its collaborators. Store and View are required;
// everything else is optional and a nil Feed means local-only operation.
type Options struct {
	Store    *store.Store
	View     *view.State
	Feed     ChangeFeed
	Remote   RemoteSource
	Identity remote.IdentityProvider
	Notifier Notifier
	// Checkpoints receives a checkpoint after every successful resync
	Checkpoints Checkpointer
	// Registry receives the engine metrics; nil leaves them unregistered
	Registry prometheus.Registerer

	QueueSize         int
	ResyncConcurrency int
	// DegradedMessages makes every resync fetch message lists too, even while
	// the realtime feed is up
	DegradedMessages bool
	// Now is the clock used to stamp local changes
	Now func() time.Time
}

type task struct {
	name string
	run  func(ctx context.Context)
}

type subscription struct {
	topic  string
	handle feed.Handle
	joined bool
}

// Engine is the sync engine. Create it with New, call Start once, and
// Teardown when done.
type Engine struct {
	store      *store.Store
	view       *view.State
	feed       ChangeFeed
	remote     RemoteSource
	identity   remote.IdentityProvider
	notifier   Notifier
	checkpoint Checkpointer
	normalizer *internal.Normalizer
	metrics    *metrics
	now        func() time.Time

	resyncConcurrency int
	degradedMessages  bool

	tasks    chan task
	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
	ctx      context.Context
	resyncs  singleflight.Group

	state         atomic.Int32
	stateMu       sync.Mutex
	stateCbs      []func(from, to ConnState)
	lastResyncErr atomic.Pointer[error]

	// owned by the reconciliation goroutine
	userID        string
	subs          map[string]*subscription
	hadConnection bool
	resyncAfter   bool
}

// New creates an engine. Nothing runs until Start.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.View == nil {
		return nil, fmt.Errorf("view is required")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.ResyncConcurrency <= 0 {
		opts.ResyncConcurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Identity == nil {
		opts.Identity = remote.StaticIdentity{}
	}
	if opts.Notifier == nil {
		opts.Notifier = NotifierFunc(func(Level, string) {})
	}

	return &Engine{
		store:             opts.Store,
		view:              opts.View,
		feed:              opts.Feed,
		remote:            opts.Remote,
		identity:          opts.Identity,
		notifier:          opts.Notifier,
		checkpoint:        opts.Checkpoints,
		normalizer:        internal.NewNormalizer(),
		metrics:           newMetrics(opts.Registry),
		now:               opts.Now,
		resyncConcurrency: opts.ResyncConcurrency,
		degradedMessages:  opts.DegradedMessages,
		tasks:             make(chan task, opts.QueueSize),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
		// steps run on their own context: teardown lets in-flight writes finish
		ctx:  context.Background(),
		subs: make(map[string]*subscription),
	}, nil
}

// View returns the view the engine publishes to
func (e *Engine) View() *view.State {
	return e.view
}

// State returns the current connection state. Safe from any goroutine.
func (e *Engine) State() ConnState {
	return ConnState(e.state.Load())
}

// OnStateChange registers a callback run on the reconciliation goroutine after
// every state transition. Callbacks must not call back into the engine
// synchronously.
func (e *Engine) OnStateChange(cb func(from, to ConnState)) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.stateCbs = append(e.stateCbs, cb)
}

// LastResyncError returns the error of the last failed resync, nil after a
// successful one
func (e *Engine) LastResyncError() error {
	if p := e.lastResyncErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Start hydrates the view from the local store and, when a user is known,
// opens the user's session topic. It returns once hydration is published.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("sync engine already started")
	}
	go e.loop()

	if e.feed != nil {
		e.feed.OnConnectivityChange(func(c feed.Connectivity, err error) {
			e.enqueue("connectivity "+c.String(), func(ctx context.Context) {
				e.handleConnectivity(ctx, c, err)
			})
		})
	}

	return e.do(ctx, "start", func(ctx context.Context) error {
		if err := e.hydrate(ctx); err != nil {
			e.notifier.Notify(LevelError, "Could not load local sessions: "+err.Error())
			return err
		}
		if sessions := e.view.Sessions(); len(sessions) > 0 {
			e.view.SetCurrent(sessions[0].ID)
		}

		userID, ok := e.identity.UserID()
		if !ok {
			internal.LogInfo("No remote identity, running local-only")
			return nil
		}
		e.userID = userID
		if e.feed == nil {
			internal.LogInfo("No realtime feed configured for %s", userID)
			return nil
		}
		e.initialize(ctx)
		return nil
	})
}

// SetOnline is the platform connectivity signal. Going offline drops to
// disconnected immediately; coming back re-initializes with fresh
// subscriptions and runs a resync.
func (e *Engine) SetOnline(online bool) {
	e.enqueue(fmt.Sprintf("online=%v", online), func(ctx context.Context) {
		if online {
			e.resyncAfter = true
			e.initialize(ctx)
			return
		}
		e.dropSubscriptions(ctx)
		e.setState(Disconnected)
	})
}

// Teardown unsubscribes every topic, forces the state to disconnected and
// stops the reconciliation goroutine once the running step completes. ctx
// bounds how long Teardown waits for queued steps; when it expires the
// remaining steps are dropped and the release still happens.
func (e *Engine) Teardown(ctx context.Context) error {
	if !e.started.Load() {
		return nil
	}
	e.stopOnce.Do(func() {
		ran := make(chan struct{})
		if e.enqueue("teardown", func(ctx context.Context) {
			e.release(ctx)
			close(ran)
		}) {
			select {
			case <-ran:
			case <-ctx.Done():
				internal.LogWarn("Teardown: %v, dropping %d queued step(s)", ctx.Err(), len(e.tasks))
			}
		}
		close(e.stop)
		<-e.done

		select {
		case <-ran:
		default:
			// the loop is gone, so this goroutine owns the engine state now
			e.release(e.ctx)
			e.view.Publish()
		}
	})
	return nil
}

func (e *Engine) release(ctx context.Context) {
	e.dropSubscriptions(ctx)
	e.setState(Disconnected)
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		// a closed stop channel wins over pending tasks
		select {
		case <-e.stop:
			return
		default:
		}
		select {
		case <-e.stop:
			return
		case t := <-e.tasks:
			e.metrics.QueueDepth.Set(float64(len(e.tasks)))
			internal.LogDebug("Step: %s", t.name)
			t.run(e.ctx)
			e.view.Publish()
		}
	}
}

// enqueue appends a step to the queue. After Teardown it drops the step
// instead of blocking.
func (e *Engine) enqueue(name string, fn func(ctx context.Context)) bool {
	select {
	case <-e.stop:
		return false
	default:
	}
	select {
	case e.tasks <- task{name: name, run: fn}:
		e.metrics.QueueDepth.Set(float64(len(e.tasks)))
		return true
	case <-e.stop:
		return false
	}
}

// do runs fn as one step and waits for its result. It must not be called
// from the reconciliation goroutine.
func (e *Engine) do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if !e.started.Load() {
		return ErrNotStarted
	}
	errc := make(chan error, 1)
	if !e.enqueue(name, func(ctx context.Context) { errc <- fn(ctx) }) {
		return ErrStopped
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		select {
		case err := <-errc:
			return err
		default:
			return ErrStopped
		}
	}
}

func (e *Engine) setState(to ConnState) {
	from := ConnState(e.state.Swap(int32(to)))
	if from == to {
		return
	}
	internal.LogInfo("Connection state: %s -> %s", from, to)
	e.metrics.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	e.metrics.ConnectionState.Set(float64(to))

	e.stateMu.Lock()
	cbs := append([]func(from, to ConnState){}, e.stateCbs...)
	e.stateMu.Unlock()
	for _, cb := range cbs {
		cb(from, to)
	}
}

func (e *Engine) hydrate(ctx context.Context) error {
	sessions, err := e.store.LoadAllSessions(ctx)
	if err != nil {
		return err
	}
	e.view.Replace(sessions)
	e.view.Sort()
	internal.LogInfo("Hydrated %d sessions from local store", len(sessions))
	return nil
}

// storageFailed degrades to disconnected; the next reconnect or manual sync
// retries.
func (e *Engine) storageFailed(what string, err error) {
	e.metrics.StorageFailures.Inc()
	internal.LogError("Failed to %s: %v", what, err)
	e.notifier.Notify(LevelError, fmt.Sprintf("Failed to %s", what))
	e.setState(Disconnected)
}
