package stockpile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/plugin"
	"github.com/xraph/stockpile/state"
	"github.com/xraph/stockpile/storage"
	"github.com/xraph/stockpile/storage/aggregate"
	"github.com/xraph/stockpile/storage/bin"
	"github.com/xraph/stockpile/storage/tank"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

// Compile-time check that the engine observes its transaction manager.
var _ txn.Observer = (*Engine)(nil)

// Engine owns a transaction manager, the stores created through it and an
// optional state repository used to persist them.
type Engine struct {
	mgr     *txn.Manager
	repo    state.Repository
	plugins *plugin.Registry
	logger  *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	// disconnected holds stores disconnected inside the open transaction,
	// reported once its locks are released.
	discMu       sync.Mutex
	disconnected []id.StoreID

	// Background workers
	saveBuffer chan *entry
	stopChan   chan struct{}
	wg         sync.WaitGroup
	saveMu     sync.Mutex
	started    atomic.Bool
	stopped    atomic.Bool

	// Configuration
	saveBatchSize     int
	saveFlushInterval time.Duration
	saveBufferSize    int
	disableMigrate    bool
	txnOpts           []txn.Option
}

// entry is the engine's bookkeeping for one registered store.
type entry struct {
	store   storage.Store
	sub     storage.Subscription
	version atomic.Int64
	tracked atomic.Bool
	dirty   atomic.Bool
}

// New creates a new Engine. repo may be nil when persistence is not needed;
// Save and Restore then return ErrNoRepository.
func New(repo state.Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:              repo,
		plugins:           plugin.NewRegistry(),
		logger:            slog.Default(),
		entries:           make(map[string]*entry),
		stopChan:          make(chan struct{}),
		saveBatchSize:     64,
		saveFlushInterval: 5 * time.Second,
		saveBufferSize:    1024,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.saveBuffer = make(chan *entry, e.saveBufferSize)
	txnOpts := append([]txn.Option{
		txn.WithLogger(e.logger),
		txn.WithObserver(e),
	}, e.txnOpts...)
	e.mgr = txn.NewManager(txnOpts...)

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPluginTimeout bounds how long a single plugin hook may run.
func WithPluginTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.plugins.WithTimeout(d)
	}
}

// WithSaveConfig configures the autosave batch size and flush interval.
func WithSaveConfig(batchSize int, flushInterval time.Duration) Option {
	return func(e *Engine) {
		if batchSize > 0 {
			e.saveBatchSize = batchSize
		}
		if flushInterval > 0 {
			e.saveFlushInterval = flushInterval
		}
	}
}

// WithSaveBufferSize sets how many pending save requests may be queued.
func WithSaveBufferSize(size int) Option {
	return func(e *Engine) {
		if size > 0 {
			e.saveBufferSize = size
		}
	}
}

// WithoutMigrate skips repository migration in Start.
func WithoutMigrate() Option {
	return func(e *Engine) { e.disableMigrate = true }
}

// WithTxnOption passes an option through to the transaction manager.
func WithTxnOption(opt txn.Option) Option {
	return func(e *Engine) { e.txnOpts = append(e.txnOpts, opt) }
}

// Manager returns the transaction manager shared by the engine's stores.
func (e *Engine) Manager() *txn.Manager { return e.mgr }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Repository returns the state repository, which may be nil.
func (e *Engine) Repository() state.Repository { return e.repo }

// Start migrates the repository, initializes plugins and begins the
// autosave worker.
func (e *Engine) Start(ctx context.Context) error {
	if e.stopped.Load() {
		return ErrEngineStopped
	}
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}

	if e.repo != nil && !e.disableMigrate {
		if err := e.repo.Migrate(ctx); err != nil {
			return err
		}
	}

	e.plugins.EmitInit(ctx, e)

	// The worker must not inherit the caller's primary designation or
	// open frame.
	e.wg.Add(1)
	go e.saveWorker(context.Background())

	e.logger.Info("stockpile started",
		"batch_size", e.saveBatchSize,
		"flush_interval", e.saveFlushInterval,
		"buffer_size", e.saveBufferSize,
		"persistent", e.repo != nil,
	)

	return nil
}

// Stop flushes pending saves, shuts plugins down and closes the repository.
func (e *Engine) Stop() error {
	if !e.stopped.CompareAndSwap(false, true) {
		return ErrEngineStopped
	}
	close(e.stopChan)
	e.wg.Wait()

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	if e.repo == nil {
		return nil
	}
	return e.repo.Close()
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

// SetPrimary designates ctx as the primary caller. See txn.Manager.SetPrimary.
func (e *Engine) SetPrimary(ctx context.Context) context.Context {
	return e.mgr.SetPrimary(ctx)
}

// Open opens a transaction frame. See txn.Manager.Open.
func (e *Engine) Open(ctx context.Context) (*txn.Transaction, context.Context) {
	return e.mgr.Open(ctx)
}

// Do runs fn inside a transaction, committing when it returns nil.
func (e *Engine) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return e.mgr.Do(ctx, fn)
}

// TransactionClosed implements txn.Observer. Frames that enlisted no
// participant are not reported.
func (e *Engine) TransactionClosed(ctx context.Context, o txn.Outcome) {
	e.discMu.Lock()
	disconnected := e.disconnected
	e.disconnected = nil
	e.discMu.Unlock()
	for _, sid := range disconnected {
		e.plugins.EmitStoreDisconnected(ctx, sid)
	}

	if o.Participants == 0 {
		return
	}
	if o.Committed {
		e.plugins.EmitTransactionCommitted(ctx, o.ID, o.Participants, o.Elapsed)
		return
	}
	e.plugins.EmitTransactionRolledBack(ctx, o.ID, o.Participants, o.Elapsed)
}

func (e *Engine) inTransaction(ctx context.Context) bool {
	tx := e.mgr.Current(ctx)
	return tx != nil && tx.IsOpen()
}

// ──────────────────────────────────────────────────
// Store registry
// ──────────────────────────────────────────────────

// NewTank creates a tank bound to the engine's manager and registers it.
func (e *Engine) NewTank(ctx context.Context, capacity types.Fraction, opts ...tank.Option) (*tank.Tank, error) {
	t := tank.New(e.mgr, capacity, append([]tank.Option{tank.WithLogger(e.logger)}, opts...)...)
	if err := e.Register(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// NewBin creates a bin bound to the engine's manager and registers it.
func (e *Engine) NewBin(ctx context.Context, slots int, limit int64, opts ...bin.Option) (*bin.Bin, error) {
	b := bin.New(e.mgr, slots, limit, append([]bin.Option{bin.WithLogger(e.logger)}, opts...)...)
	if err := e.Register(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// NewAggregate creates an aggregate bound to the engine's manager and
// registers it.
func (e *Engine) NewAggregate(ctx context.Context, opts ...aggregate.Option) (*aggregate.Aggregate, error) {
	g := aggregate.New(e.mgr, append([]aggregate.Option{aggregate.WithLogger(e.logger)}, opts...)...)
	if err := e.Register(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Register adopts a store created elsewhere. The store must use the engine's
// manager for its transactions.
func (e *Engine) Register(ctx context.Context, s storage.Store) error {
	if s.Manager() != e.mgr {
		return fmt.Errorf("%w: %s", txn.ErrForeignManager, s.ID())
	}
	if !s.IsValid() {
		return fmt.Errorf("%w: %s", ErrStoreInvalid, s.ID())
	}

	key := s.ID().String()
	e.mu.Lock()
	if _, ok := e.entries[key]; ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: store %s", ErrAlreadyExists, key)
	}
	en := &entry{store: s}
	e.entries[key] = en
	e.mu.Unlock()

	en.sub = s.StartListening(ctx, &watcher{e: e, en: en}, false)

	e.plugins.EmitStoreRegistered(ctx, s.ID(), s.Kind())
	return nil
}

// Unregister forgets a store without disconnecting it.
func (e *Engine) Unregister(ctx context.Context, s storage.Store) error {
	en := e.remove(s.ID())
	if en == nil {
		return ErrNotRegistered
	}
	s.StopListening(ctx, en.sub, false)
	return nil
}

// Disconnect disconnects a registered store and forgets it.
func (e *Engine) Disconnect(ctx context.Context, s storage.Store) error {
	if _, err := e.lookup(s.ID()); err != nil {
		return err
	}
	s.Disconnect(ctx)
	return nil
}

// Store returns the registered store with the given ID.
func (e *Engine) Store(storeID id.StoreID) (storage.Store, error) {
	en, err := e.lookup(storeID)
	if err != nil {
		return nil, err
	}
	return en.store, nil
}

// Stores returns all registered stores.
func (e *Engine) Stores() []storage.Store {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]storage.Store, 0, len(e.entries))
	for _, en := range e.entries {
		result = append(result, en.store)
	}
	return result
}

func (e *Engine) lookup(storeID id.StoreID) (*entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	en, ok := e.entries[storeID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, storeID)
	}
	return en, nil
}

func (e *Engine) remove(storeID id.StoreID) *entry {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := storeID.String()
	en, ok := e.entries[key]
	if !ok {
		return nil
	}
	delete(e.entries, key)
	return en
}

// watcher marks tracked stores dirty and forgets disconnected ones.
type watcher struct {
	e  *Engine
	en *entry
}

func (w *watcher) OnAccept(context.Context, storage.Event) { w.e.markDirty(w.en) }

func (w *watcher) OnSupply(context.Context, storage.Event) { w.e.markDirty(w.en) }

func (w *watcher) OnCapacityChange(context.Context, storage.Store, types.Fraction) {
	w.e.markDirty(w.en)
}

func (w *watcher) OnDisconnect(ctx context.Context, s storage.Store) {
	if w.e.remove(s.ID()) == nil {
		return
	}
	w.en.tracked.Store(false)
	if !w.e.inTransaction(ctx) {
		w.e.plugins.EmitStoreDisconnected(ctx, s.ID())
		return
	}
	w.e.discMu.Lock()
	w.e.disconnected = append(w.e.disconnected, s.ID())
	w.e.discMu.Unlock()
}
