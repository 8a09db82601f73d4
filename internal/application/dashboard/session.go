package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/orderboard/internal/application/datascope"
	"github.com/erp/orderboard/internal/application/display"
	"github.com/erp/orderboard/internal/application/filter"
	"github.com/erp/orderboard/internal/application/livecache"
	"github.com/erp/orderboard/internal/application/report"
	"github.com/erp/orderboard/internal/domain/order"
	"github.com/erp/orderboard/internal/domain/shared"
	"go.uber.org/zap"
)

// Config holds session tuning
type Config struct {
	SearchDebounce     time.Duration
	AgingDays          int
	NotificationBuffer int
	InboxSize          int
	RefreshTimeout     time.Duration
	// IdleTimeout closes sessions nobody has touched or watched for this
	// long; 0 keeps sessions until they are closed
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SearchDebounce < filter.MinDebounce {
		c.SearchDebounce = filter.MinDebounce
	}
	if c.AgingDays <= 0 {
		c.AgingDays = report.DefaultAgingDays
	}
	if c.NotificationBuffer <= 0 {
		c.NotificationBuffer = 32
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 256
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = 30 * time.Second
	}
	if c.IdleTimeout > 0 && c.SweepInterval <= 0 {
		c.SweepInterval = c.IdleTimeout / 4
	}
	return c
}

// Deps are the collaborators shared by all sessions
type Deps struct {
	Fetcher   OrderFetcher
	Push      PushSource
	Bus       shared.EventBus
	Resolver  *datascope.Resolver
	Formatter *display.Formatter
	Metrics   Metrics
	Logger    *zap.Logger
	Clock     func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Resolver == nil {
		d.Resolver = datascope.NewResolver(datascope.DefaultElevatedRoles)
	}
	if d.Formatter == nil {
		d.Formatter = display.NewFormatter(display.ParseLocale("en"), time.UTC, "")
	}
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}

// View is a filtered, sorted snapshot of a session's cache
type View struct {
	Generation      uint64          `json:"generation"`
	CacheGeneration uint64          `json:"cache_generation"`
	Criteria        filter.Criteria `json:"criteria"`
	Records         []order.Record  `json:"records"`
}

// RollupOptions selects the rollup mode and the view it runs over
type RollupOptions struct {
	Team     bool
	Criteria *filter.Criteria
}

// Rollups is the aggregation of a view. Exactly one of Summary and Teams is set.
type Rollups struct {
	Mode           string              `json:"mode"`
	ViewGeneration uint64              `json:"view_generation"`
	AsOf           time.Time           `json:"as_of"`
	Summary        *report.Summary     `json:"summary,omitempty"`
	Teams          *report.TeamSummary `json:"teams,omitempty"`
}

// Rollup modes
const (
	RollupModeSalesperson = "salesperson"
	RollupModeTeam        = "team"
)

// ExportRows flattens the rollup for export
func (r Rollups) ExportRows() []report.ExportRow {
	if r.Teams != nil {
		return r.Teams.ExportRows()
	}
	if r.Summary != nil {
		return r.Summary.ExportRows()
	}
	return nil
}

// Change kinds delivered to watchers
const (
	ChangeCache    = "cache"
	ChangeCleared  = "cleared"
	ChangeCriteria = "criteria"
)

// Change tells watchers that the session's view may have changed
type Change struct {
	Kind       string `json:"kind"`
	Generation uint64 `json:"generation"`
	Operation  string `json:"operation,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	Size       int    `json:"size"`
}

type viewKey struct {
	generation uint64
	criteria   string
}

type rollupKey struct {
	view uint64
	team bool
	asOf int64
}

// Session is one viewer's live dashboard. All cache mutations run on the
// session's event loop; reads may happen from any goroutine.
type Session struct {
	id        string
	viewer    order.Viewer
	dashboard livecache.Dashboard
	token     string
	cfg       Config
	deps      Deps
	logger    *zap.Logger
	createdAt time.Time

	cache    *livecache.Cache
	display  *display.Cache
	notes    *notifier
	debounce *filter.Debouncer
	handler  *shared.EventHandlerFunc

	inbox    chan func()
	quit     chan struct{}
	loopDone chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	lastAccess atomic.Int64

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	bgMu     sync.Mutex
	bgClosed bool
	bg       sync.WaitGroup

	subMu sync.Mutex
	sub   Subscription

	critMu   sync.RWMutex
	criteria filter.Criteria

	fetchSeq   atomic.Uint64
	appliedSeq uint64

	viewSeq  atomic.Uint64
	scoped   memo[uint64, []order.Record]
	filtered memo[viewKey, View]
	rollups  memo[rollupKey, Rollups]

	watchMu     sync.Mutex
	watchers    map[uint64]chan Change
	nextWatcher uint64
	watchClosed bool
}

// NewSession creates a session. Start must be called before use.
func NewSession(id string, viewer order.Viewer, dashboard livecache.Dashboard, token string, cfg Config, deps Deps) *Session {
	cfg = cfg.withDefaults()
	deps = deps.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:        id,
		viewer:    viewer,
		dashboard: dashboard,
		token:     token,
		cfg:       cfg,
		deps:      deps,
		createdAt: deps.Clock(),
		logger: deps.Logger.With(
			zap.String("session_id", id),
			zap.String("user_id", viewer.ID),
			zap.String("dashboard", dashboard.Name),
		),
		display:  display.NewCache(deps.Formatter),
		notes:    newNotifier(cfg.NotificationBuffer),
		inbox:    make(chan func(), cfg.InboxSize),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		watchers: make(map[uint64]chan Change),
	}
	s.lastAccess.Store(s.createdAt.UnixNano())

	var publisher shared.EventPublisher
	if deps.Bus != nil {
		publisher = deps.Bus
	}
	s.cache = livecache.New(livecache.Config{
		SessionID: id,
		Dashboard: dashboard,
		Viewer:    viewer,
		Publisher: publisher,
		Recorder:  deps.Metrics,
		Logger:    deps.Logger,
	})
	s.debounce = filter.NewDebouncer(cfg.SearchDebounce, func(term string) {
		s.enqueue(func() { s.setSearch(term) })
	})
	s.handler = &shared.EventHandlerFunc{
		Types: []string{livecache.EventTypeCacheChanged, livecache.EventTypeCacheCleared},
		Fn:    s.onCacheEvent,
	}
	return s
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Viewer returns the identity the session renders for
func (s *Session) Viewer() order.Viewer { return s.viewer }

// Dashboard returns the session's dashboard
func (s *Session) Dashboard() livecache.Dashboard { return s.dashboard }

// CreatedAt returns when the session was opened
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Touch marks the session as used now
func (s *Session) Touch() { s.lastAccess.Store(s.deps.Clock().UnixNano()) }

// LastAccess returns when the session was last touched
func (s *Session) LastAccess() time.Time { return time.Unix(0, s.lastAccess.Load()) }

// Cache exposes the live cache for read access
func (s *Session) Cache() *livecache.Cache { return s.cache }

// Closed reports whether Close has been called
func (s *Session) Closed() bool { return s.closed.Load() }

// Start runs the event loop, opens the push subscription and performs the
// initial full fetch. A failed fetch leaves the session open with an empty
// cache and a notification; its error is returned.
func (s *Session) Start(ctx context.Context) error {
	if s.closed.Load() {
		return shared.ErrSessionClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	go s.run()

	if s.deps.Bus != nil {
		s.deps.Bus.Subscribe(s.handler)
	}

	if s.deps.Push != nil {
		sub, err := s.deps.Push.Subscribe(s.ctx, sessionSink{s: s})
		if err != nil {
			s.logger.Warn("push subscription failed", zap.Error(err))
			s.enqueue(func() {
				s.notify(CategoryPushError, SeverityWarning, "Live updates are unavailable. Data may be out of date.")
			})
		} else {
			s.subMu.Lock()
			s.sub = sub
			s.subMu.Unlock()
		}
	}

	return s.Refresh(ctx)
}

func (s *Session) run() {
	defer close(s.loopDone)
	for {
		select {
		case cmd := <-s.inbox:
			cmd()
		case <-s.quit:
			return
		}
	}
}

// enqueue hands cmd to the event loop, blocking while the inbox is full.
// It returns false once the session is closed.
func (s *Session) enqueue(cmd func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.inbox <- cmd:
		return true
	case <-s.quit:
		return false
	}
}

// call runs cmd on the event loop and waits for it to finish
func (s *Session) call(ctx context.Context, cmd func()) error {
	if s.closed.Load() {
		return shared.ErrSessionClosed
	}
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		cmd()
	}
	select {
	case s.inbox <- wrapped:
	case <-s.quit:
		return shared.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.quit:
		return shared.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh performs a full fetch and replaces the cache with the result. On
// failure the cache is cleared and a categorized notification is emitted.
func (s *Session) Refresh(ctx context.Context) error {
	if s.closed.Load() {
		return shared.ErrSessionClosed
	}
	seq := s.fetchSeq.Add(1)
	start := time.Now()

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.RefreshTimeout)
	docs, fetchErr := s.deps.Fetcher.FetchOrders(fetchCtx, s.token)
	cancel()

	var (
		records    []order.Record
		decodeErrs []error
	)
	if fetchErr == nil {
		records, decodeErrs = order.DecodeList(docs, s.viewer)
	}

	outcome := "success"
	if fetchErr != nil {
		outcome, _ = Categorize(fetchErr)
	}
	s.deps.Metrics.RecordRefresh(ctx, outcome, time.Since(start))

	if err := s.call(ctx, func() { s.applyFetch(seq, records, decodeErrs, fetchErr) }); err != nil {
		return err
	}
	if fetchErr != nil {
		return fmt.Errorf("refresh orders: %w", fetchErr)
	}
	return nil
}

// applyFetch runs on the event loop. Results of a fetch started before the
// last applied one are discarded.
func (s *Session) applyFetch(seq uint64, records []order.Record, decodeErrs []error, fetchErr error) {
	if seq < s.appliedSeq {
		s.logger.Debug("discarding stale fetch result", zap.Uint64("seq", seq), zap.Uint64("applied", s.appliedSeq))
		return
	}
	s.appliedSeq = seq

	if fetchErr != nil {
		category, message := Categorize(fetchErr)
		s.cache.Clear(s.ctx, category)
		s.logger.Warn("order fetch failed, cache cleared",
			zap.String("category", category),
			zap.Error(fetchErr),
		)
		s.notify(category, SeverityError, message)
		return
	}

	if len(decodeErrs) > 0 {
		s.logger.Warn("skipped undecodable orders",
			zap.Int("count", len(decodeErrs)),
			zap.Error(errors.Join(decodeErrs...)),
		)
	}
	gen := s.cache.ReplaceAll(s.ctx, records)
	s.logger.Info("orders refreshed",
		zap.Int("fetched", len(records)),
		zap.Int("cached", s.cache.Len()),
		zap.Uint64("generation", gen),
	)
}

// refreshAsync starts a background reconciling fetch
func (s *Session) refreshAsync(reason string) {
	s.bgMu.Lock()
	if s.bgClosed {
		s.bgMu.Unlock()
		return
	}
	s.bg.Add(1)
	s.bgMu.Unlock()

	go func() {
		defer s.bg.Done()
		if err := s.Refresh(s.ctx); err != nil && !errors.Is(err, shared.ErrSessionClosed) && !errors.Is(err, context.Canceled) {
			s.logger.Debug("background refresh failed", zap.String("reason", reason), zap.Error(err))
		}
	}()
}

// ApplyEditResult writes the record returned by a successful edit into the
// cache as an update, then reconciles with a background full fetch
func (s *Session) ApplyEditResult(ctx context.Context, raw json.RawMessage) (livecache.Outcome, error) {
	r, err := order.Decode(raw, s.viewer)
	if err != nil {
		return livecache.OutcomeDropped, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	ev := order.ChangeEvent{OperationType: order.OperationUpdate, DocumentID: r.ID, FullDocument: raw}

	var (
		outcome  livecache.Outcome
		applyErr error
	)
	if err := s.call(ctx, func() { outcome, applyErr = s.cache.ApplyEvent(s.ctx, ev) }); err != nil {
		return livecache.OutcomeDropped, err
	}
	if applyErr != nil {
		return outcome, fmt.Errorf("%w: %v", shared.ErrInvalidInput, applyErr)
	}
	s.refreshAsync("edit")
	return outcome, nil
}

func (s *Session) applyPush(ev order.ChangeEvent) {
	if _, err := s.cache.ApplyEvent(s.ctx, ev); err != nil {
		s.notify(CategoryMalformedEvent, SeverityWarning, "An update could not be applied and was ignored.")
	}
}

// SetSearch changes the search term once typing has settled
func (s *Session) SetSearch(term string) {
	s.debounce.Trigger(term)
}

// FlushSearch applies a pending search term immediately
func (s *Session) FlushSearch() {
	s.debounce.Flush()
}

func (s *Session) setSearch(term string) {
	s.critMu.Lock()
	s.criteria = s.criteria.WithSearch(term)
	s.critMu.Unlock()
	s.broadcast(Change{Kind: ChangeCriteria, Generation: s.cache.Generation(), Size: s.cache.Len()})
}

// SetCriteria replaces the session's active criteria
func (s *Session) SetCriteria(ctx context.Context, c filter.Criteria) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	return s.call(ctx, func() {
		s.critMu.Lock()
		s.criteria = c
		s.critMu.Unlock()
		s.broadcast(Change{Kind: ChangeCriteria, Generation: s.cache.Generation(), Size: s.cache.Len()})
	})
}

// Criteria returns the active criteria
func (s *Session) Criteria() filter.Criteria {
	s.critMu.RLock()
	defer s.critMu.RUnlock()
	return s.criteria
}

// Scoped returns the cache contents the viewer may see, memoized on the cache generation
func (s *Session) Scoped() ([]order.Record, uint64) {
	state, gen := s.cache.Snapshot()
	records := s.scoped.get(gen, func() []order.Record {
		start := time.Now()
		defer func() { s.deps.Metrics.RecordStage(s.ctx, "scope", time.Since(start)) }()
		return s.deps.Resolver.Filter(state.Records(), s.viewer)
	})
	return records, gen
}

// View applies c to the scoped cache. Results are memoized on the cache
// generation and the criteria key.
func (s *Session) View(c filter.Criteria) View {
	scoped, gen := s.Scoped()
	return s.filtered.get(viewKey{generation: gen, criteria: c.Key()}, func() View {
		start := time.Now()
		defer func() { s.deps.Metrics.RecordStage(s.ctx, "filter", time.Since(start)) }()
		return View{
			Generation:      s.viewSeq.Add(1),
			CacheGeneration: gen,
			Criteria:        c,
			Records:         filter.Apply(scoped, c),
		}
	})
}

// CurrentView applies the session's active criteria
func (s *Session) CurrentView() View {
	return s.View(s.Criteria())
}

// Rollups aggregates a view. Team mode is reserved for elevated viewers.
// The aging reference time is truncated to the minute so repeated calls
// within a minute share one result.
func (s *Session) Rollups(opts RollupOptions) (Rollups, error) {
	if opts.Team && !s.deps.Resolver.IsElevated(s.viewer.Role) {
		return Rollups{}, fmt.Errorf("%w: team rollups require an elevated role", shared.ErrForbidden)
	}
	criteria := s.Criteria()
	if opts.Criteria != nil {
		criteria = *opts.Criteria
	}
	view := s.View(criteria)
	asOf := s.deps.Clock().Truncate(time.Minute)
	key := rollupKey{view: view.Generation, team: opts.Team, asOf: asOf.Unix()}

	return s.rollups.get(key, func() Rollups {
		start := time.Now()
		defer func() { s.deps.Metrics.RecordStage(s.ctx, "aggregate", time.Since(start)) }()

		ropts := report.Options{Now: asOf, AgingDays: s.cfg.AgingDays}
		out := Rollups{ViewGeneration: view.Generation, AsOf: asOf}
		if opts.Team {
			teams := report.AggregateTeams(view.Records, ropts)
			out.Mode = RollupModeTeam
			out.Teams = &teams
		} else {
			summary := report.Aggregate(view.Records, ropts)
			out.Mode = RollupModeSalesperson
			out.Summary = &summary
		}
		return out
	}), nil
}

// Display returns the display rows of the current view
func (s *Session) Display() ([]display.Row, View) {
	view := s.CurrentView()
	start := time.Now()
	rows := s.display.Rows(view.Records, view.Generation)
	s.deps.Metrics.RecordStage(s.ctx, "display", time.Since(start))
	return rows, view
}

// Notifications returns the channel of user-visible notifications. It is
// closed when the session closes.
func (s *Session) Notifications() <-chan Notification {
	return s.notes.ch
}

func (s *Session) notify(category, severity, message string) {
	s.notes.send(Notification{
		Category: category,
		Severity: severity,
		Message:  message,
		Time:     s.deps.Clock(),
	})
}

// Watch registers a listener for view changes. The returned cancel func
// detaches it; the channel is closed on cancel or session close.
func (s *Session) Watch(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Change, buffer)

	s.watchMu.Lock()
	if s.watchClosed {
		s.watchMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = ch
	s.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.Touch()
			s.watchMu.Lock()
			defer s.watchMu.Unlock()
			if c, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(c)
			}
		})
	}
}

// WatcherCount returns the number of attached watchers
func (s *Session) WatcherCount() int {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	return len(s.watchers)
}

// broadcast delivers c to every watcher without blocking; a watcher whose
// buffer is full misses the change
func (s *Session) broadcast(c Change) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- c:
		default:
		}
	}
}

func (s *Session) onCacheEvent(_ context.Context, ev shared.DomainEvent) error {
	if ev.AggregateID() != s.id {
		return nil
	}
	switch e := ev.(type) {
	case *livecache.CacheChangedEvent:
		s.broadcast(Change{
			Kind:       ChangeCache,
			Generation: e.Generation,
			Operation:  e.Operation,
			DocumentID: e.DocumentID,
			Outcome:    string(e.Outcome),
			Size:       e.Size,
		})
	case *livecache.CacheClearedEvent:
		s.broadcast(Change{Kind: ChangeCleared, Generation: e.Generation})
	}
	return nil
}

// Close detaches the session from the bus and the push channel, stops the
// event loop and closes the notification and watcher channels. It is safe
// to call more than once.
func (s *Session) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.debounce.Stop()

		if s.deps.Bus != nil {
			s.deps.Bus.Unsubscribe(s.handler)
		}

		s.subMu.Lock()
		if s.sub != nil {
			closeErr = s.sub.Close()
			s.sub = nil
		}
		s.subMu.Unlock()

		s.cancel()
		close(s.quit)
		if s.started.Load() {
			<-s.loopDone
		}

		s.bgMu.Lock()
		s.bgClosed = true
		s.bgMu.Unlock()
		s.bg.Wait()

		s.notes.close()

		s.watchMu.Lock()
		s.watchClosed = true
		for id, ch := range s.watchers {
			delete(s.watchers, id)
			close(ch)
		}
		s.watchMu.Unlock()

		s.logger.Info("dashboard session closed")
	})
	return closeErr
}

// sessionSink adapts push callbacks onto the session's event loop
type sessionSink struct {
	s *Session
}

func (k sessionSink) OnEvent(ev order.ChangeEvent) {
	k.s.enqueue(func() { k.s.applyPush(ev) })
}

func (k sessionSink) OnMalformed(err error) {
	k.s.logger.Warn("dropped malformed push payload", zap.Error(err))
	k.s.enqueue(func() {
		k.s.notify(CategoryMalformedEvent, SeverityWarning, "An update could not be applied and was ignored.")
	})
}

func (k sessionSink) OnReconnect() {
	k.s.logger.Info("push channel reconnected, refreshing")
	k.s.enqueue(func() {
		k.s.notify(CategoryPushReconnected, SeverityInfo, "Live updates reconnected. Refreshing orders.")
	})
	k.s.refreshAsync("reconnect")
}

func (k sessionSink) OnError(err error) {
	k.s.logger.Warn("push channel error", zap.Error(err))
	k.s.enqueue(func() {
		k.s.notify(CategoryPushError, SeverityWarning, "Live updates were interrupted. Reconnecting.")
	})
}
