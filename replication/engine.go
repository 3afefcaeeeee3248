package replication

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/errs"
	"github.com/riftdb/riftdb/internal/rlog"
	"github.com/riftdb/riftdb/replication/wire"
)

// Config configures an Engine.
type Config struct {
	NodeID    string
	Transport Transport
	Bindings  []Binding

	// Checkpoint is the last persisted checkpoint; zero value starts a
	// fresh sync from the beginning of every bound collection's history.
	Checkpoint wire.Checkpoint

	// PersistCheckpoint is invoked after every successful sync round so
	// the host can durably store the cursor (spec requires recovery
	// after a restart to resume rather than replay from scratch). May be
	// nil, in which case the checkpoint only lives in memory.
	PersistCheckpoint func(wire.Checkpoint) error

	// PullInterval is how often the engine pulls even with no local
	// change to push. Defaults to 30s.
	PullInterval time.Duration

	// InitialBackoff/MaxBackoff/BackoffFactor bound the exponential
	// backoff used while Status is offline/error. Defaults: 1s, 30s, 2.0.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// Engine runs a single background sync task over its bound collections.
type Engine struct {
	cfg      Config
	bindings map[string]Binding

	mu         sync.Mutex
	checkpoint wire.Checkpoint
	backoff    time.Duration

	statusMu sync.RWMutex
	status   Status
	lastErr  error

	pushSignal chan struct{}
	cancel     context.CancelFunc
	done       chan struct{}

	group singleflight.Group
}

// New constructs an Engine from cfg. Call Start to begin syncing.
func New(cfg Config) *Engine {
	if cfg.PullInterval <= 0 {
		cfg.PullInterval = 30 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 2.0
	}
	if cfg.Checkpoint.Sequences == nil {
		cfg.Checkpoint = wire.Checkpoint{
			ID:        cfg.NodeID,
			NodeID:    cfg.NodeID,
			Sequences: map[string]uint64{},
		}
	}

	bindings := make(map[string]Binding, len(cfg.Bindings))
	for _, b := range cfg.Bindings {
		bindings[b.Name] = b
	}

	return &Engine{
		cfg:        cfg,
		bindings:   bindings,
		checkpoint: cfg.Checkpoint.Clone(),
		backoff:    cfg.InitialBackoff,
		status:     StatusIdle,
		pushSignal: make(chan struct{}, 1),
	}
}

// Status returns the engine's current synchronization state and, if it is
// StatusError or StatusOffline, the error that caused the transition.
func (e *Engine) Status() (Status, error) {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status, e.lastErr
}

// Checkpoint returns a copy of the engine's current checkpoint.
func (e *Engine) Checkpoint() wire.Checkpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkpoint.Clone()
}

// NotifyLocalChange wakes the engine to push soon; it coalesces bursts of
// writes into a single sync round rather than one round trip per write.
func (e *Engine) NotifyLocalChange() {
	select {
	case e.pushSignal <- struct{}{}:
	default:
	}
}

// Start launches the background sync loop. An Engine can be started once:
// a second call panics, also after Stop.
func (e *Engine) Start(ctx context.Context) {
	if e.cancel != nil {
		panic("replication: engine already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(runCtx)
}

// Stop cancels any in-flight sync call and waits for the background loop
// to exit, persisting the latest checkpoint one last time.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

// ForceSync runs one push+pull round immediately, ignoring backoff.
// Concurrent callers are coalesced onto a single underlying round via
// singleflight, so a burst of ForceSync calls costs one round trip.
func (e *Engine) ForceSync(ctx context.Context) error {
	_, err, _ := e.group.Do("sync", func() (any, error) {
		return nil, e.syncOnce(ctx)
	})
	return err
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	defer e.persist()

	ticker := time.NewTicker(e.cfg.PullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.pushSignal:
			e.attemptSync(ctx)
		case <-ticker.C:
			e.attemptSync(ctx)
		}
	}
}

// attemptSync runs one sync round, applying exponential backoff between
// retries while the previous attempt failed. It never returns an error;
// failures are surfaced through Status.
func (e *Engine) attemptSync(ctx context.Context) {
	if err := e.ForceSync(ctx); err != nil {
		e.setStatus(statusFor(err), err)
		wait := e.nextBackoff()
		rlog.Warn("replication sync failed, backing off",
			zap.Error(err), zap.Duration("backoff", wait))
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
		return
	}
	e.resetBackoff()
	e.setStatus(StatusIdle, nil)
}

func statusFor(err error) Status {
	if te, ok := err.(*errs.TransportError); ok && !te.Retryable {
		return StatusError
	}
	return StatusOffline
}

func (e *Engine) nextBackoff() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	wait := e.backoff
	next := time.Duration(float64(e.backoff) * e.cfg.BackoffFactor)
	if next > e.cfg.MaxBackoff {
		next = e.cfg.MaxBackoff
	}
	e.backoff = next
	// Full jitter: sleep somewhere in [0, wait], so many offline peers
	// reconnecting at once don't all retry in lockstep.
	return time.Duration(rand.Int63n(int64(wait) + 1))
}

func (e *Engine) resetBackoff() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backoff = e.cfg.InitialBackoff
}

func (e *Engine) setStatus(s Status, err error) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.status = s
	e.lastErr = err
}

func (e *Engine) persist() {
	if e.cfg.PersistCheckpoint == nil {
		return
	}
	if err := e.cfg.PersistCheckpoint(e.Checkpoint()); err != nil {
		rlog.Warn("replication failed to persist checkpoint", zap.Error(err))
	}
}

// syncOnce runs exactly one push then one (possibly multi-page) pull
// across every bound collection.
func (e *Engine) syncOnce(ctx context.Context) error {
	e.setStatus(StatusSyncing, nil)

	if err := e.push(ctx); err != nil {
		return err
	}
	if err := e.pull(ctx); err != nil {
		return err
	}
	e.persist()
	return nil
}

func (e *Engine) push(ctx context.Context) error {
	cp := e.Checkpoint()

	changes := make(map[string][]document.ChangeEvent)
	for name, b := range e.bindings {
		after := cp.Seq(name)
		hist, err := b.Collection.History(ctx, after)
		if err != nil {
			return err
		}
		var local []document.ChangeEvent
		for _, ev := range hist {
			if ev.FromSync {
				continue // avoid echoing sync-applied writes back to their source
			}
			ev.NodeID = e.cfg.NodeID
			local = append(local, ev)
		}
		if len(local) > 0 {
			changes[name] = local
		}
	}
	if len(changes) == 0 {
		return nil
	}

	req := wire.PushRequest{ID: e.cfg.NodeID, CollectionChanges: changes, FromCheckpoint: cp}
	resp, err := e.cfg.Transport.Push(ctx, req)
	if err != nil {
		return err
	}

	for _, c := range resp.Conflicts {
		if err := e.applyConflict(ctx, c); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.checkpoint = resp.Checkpoint.Clone()
	e.mu.Unlock()
	return nil
}

func (e *Engine) applyConflict(ctx context.Context, c wire.Conflict) error {
	b, ok := e.bindings[c.Collection]
	if !ok {
		return nil // conflict for a collection this engine no longer binds
	}
	res := resolveConflict(b.Strategy, e.cfg.NodeID, c)
	if res.adoptServer {
		return b.Collection.ApplyRemoteChange(ctx, document.ChangeEvent{
			Op:       document.OpUpdate,
			DocID:    c.DocID,
			Document: res.resolved,
			FromSync: true,
		})
	}
	_, err := b.Collection.Replace(ctx, c.DocID, res.resolved)
	return err
}

func (e *Engine) pull(ctx context.Context) error {
	for {
		cp := e.Checkpoint()
		resp, err := e.cfg.Transport.Pull(ctx, wire.PullRequest{ID: e.cfg.NodeID, Checkpoint: cp})
		if err != nil {
			return err
		}

		for name, evs := range resp.Changes {
			b, ok := e.bindings[name]
			if !ok {
				continue
			}
			for _, ev := range evs {
				ev.FromSync = true
				if err := b.Collection.ApplyRemoteChange(ctx, ev); err != nil {
					return err
				}
			}
		}

		e.mu.Lock()
		e.checkpoint = resp.Checkpoint.Clone()
		e.mu.Unlock()

		if !resp.HasMore {
			return nil
		}
	}
}
