// Package loader drives a single image slot: given a URL it serves the
// image from the cache store when possible and otherwise fetches it
// through a fetch.Manager, decoding the result.
//
// A Loader moves between four states:
//
//	Idle ──Start──▶ Loading ──▶ Loaded | Failed
//	  ▲                               │
//	  └────────────Cancel─────────────┘
//
// Start and SetURL may be called again from any state. Observers are
// told about image and loading changes in the order the changes happen.
package loader

import (
	"context"
	"errors"
	"image"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/urlimage/internal/logger"
	"github.com/marmos91/urlimage/internal/telemetry"
	"github.com/marmos91/urlimage/pkg/cachestore"
	"github.com/marmos91/urlimage/pkg/fetch"
	"github.com/marmos91/urlimage/pkg/transport"
)

// State is the position of a Loader in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateLoaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures a Loader. Manager is required.
type Options struct {
	Manager *fetch.Manager

	// Cache is consulted before fetching and evicted on decode failures.
	// Writes happen inside the Manager.
	Cache cachestore.Store

	// Decoder defaults to DefaultDecoder.
	Decoder Decoder

	// MustStoreCache persists bodies even when the response forbids it.
	MustStoreCache bool

	// Timeout fails a load that has not finished in time. Zero disables it.
	Timeout time.Duration

	// CacheTimeout bounds each cache call. Default 5s.
	CacheTimeout time.Duration

	// ResumeTimeout bounds the cache check made when a queued duplicate is
	// about to run. The check runs on the Manager's work queue and stalls
	// all scheduling while it waits. Defaults to the shorter of CacheTimeout
	// and one second.
	ResumeTimeout time.Duration

	// Dispatcher runs task callbacks and timeout handling. Defaults to the
	// Manager's dispatcher.
	Dispatcher fetch.Dispatcher

	// Header is added to every request, e.g. Accept.
	Header http.Header

	Metrics *Metrics
}

// Loader loads one URL at a time. It is safe for concurrent use.
//
// Observers run without internal locks held and may call SetURL, Start or
// Cancel. Notifications caused from inside an observer are delivered after
// that observer returns, in order.
type Loader struct {
	opts       Options
	decoder    Decoder
	dispatcher fetch.Dispatcher

	mu         sync.Mutex
	pending    []notification
	flushing   bool
	drained    *sync.Cond // signaled when pending empties
	url        string
	state      State
	img        *Image
	err        error
	task       *fetch.Task
	gen        uint64 // bumped by every Start and Cancel
	timer      *time.Timer
	started    time.Time
	spanCtx    context.Context
	span       trace.Span
	settled    chan struct{}
	imageObs   []observer[func(*Image)]
	loadingObs []observer[func(bool)]
	nextObs    int
}

type observer[F any] struct {
	id int
	fn F
}

// New creates an idle Loader.
func New(opts Options) *Loader {
	if opts.Manager == nil {
		panic("loader: Options.Manager is required")
	}
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = 5 * time.Second
	}
	if opts.ResumeTimeout <= 0 {
		opts.ResumeTimeout = min(opts.CacheTimeout, time.Second)
	}
	l := &Loader{
		opts:       opts,
		decoder:    opts.Decoder,
		dispatcher: opts.Dispatcher,
	}
	l.drained = sync.NewCond(&l.mu)
	if l.decoder == nil {
		l.decoder = DefaultDecoder
	}
	if l.dispatcher == nil {
		l.dispatcher = opts.Manager.Dispatcher()
	}
	return l
}

func (l *Loader) URL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.url
}

func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loader) IsLoading() bool {
	return l.State() == StateLoading
}

// Image returns the current image, or nil.
func (l *Loader) Image() *Image {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.img
}

// Err returns the cause of the last Failed state, or nil.
func (l *Loader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// OnImageChanged registers fn to receive every image change.
func (l *Loader) OnImageChanged(fn func(*Image)) (unsubscribe func()) {
	l.mu.Lock()
	id := l.nextObs
	l.nextObs++
	l.imageObs = append(l.imageObs, observer[func(*Image)]{id, fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		l.imageObs = slices.DeleteFunc(l.imageObs, func(o observer[func(*Image)]) bool { return o.id == id })
		l.mu.Unlock()
	}
}

// OnLoadingChanged registers fn to be called when IsLoading flips.
func (l *Loader) OnLoadingChanged(fn func(bool)) (unsubscribe func()) {
	l.mu.Lock()
	id := l.nextObs
	l.nextObs++
	l.loadingObs = append(l.loadingObs, observer[func(bool)]{id, fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		l.loadingObs = slices.DeleteFunc(l.loadingObs, func(o observer[func(bool)]) bool { return o.id == id })
		l.mu.Unlock()
	}
}

// SetURL targets u. It starts a new load when u differs from the current
// URL or when no image is held; otherwise it does nothing.
func (l *Loader) SetURL(u string) {
	l.mu.Lock()
	same := u == l.url && l.img != nil
	l.url = u
	l.mu.Unlock()

	if !same {
		l.Start()
	}
}

// Start cancels any running load and loads the current URL. An empty URL
// moves straight to Loaded with no image.
func (l *Loader) Start() {
	gen, u, old := l.reset()
	if old != nil {
		old.Cancel()
	}

	if u == "" {
		l.finish(gen, StateLoaded, nil, nil, "empty_url")
		return
	}

	req := transport.NewRequest(u)
	if len(l.opts.Header) > 0 {
		req.Header = l.opts.Header.Clone()
	}
	key := l.opts.Manager.Key(req).String()

	if img := l.fromCache(key, l.opts.CacheTimeout); img != nil {
		l.finish(gen, StateLoaded, img, nil, "cache_hit")
		return
	}

	task := l.opts.Manager.Task(req,
		fetch.WithCallbackDispatcher(l.dispatcher),
		fetch.WithMustStoreCache(l.opts.MustStoreCache),
	)
	task.OnComplete(func() { l.onComplete(gen, key, task) })
	task.OnError(func(err error) { l.finish(gen, StateFailed, nil, err, "failed") })
	task.OnShouldResume(func() bool { return l.shouldResume(gen, key) })

	if !l.begin(gen, u, task) {
		return
	}
	task.Start()
}

// Cancel stops the current load and returns to Idle. Nothing from the
// canceled load is delivered afterwards.
func (l *Loader) Cancel() {
	l.mu.Lock()
	l.gen++
	task := l.task
	l.task = nil
	l.stopTimerLocked()
	l.transitionLocked(StateIdle, l.img, nil)
	l.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
	l.flush()
}

// Wait blocks until the Loader is not Loading or ctx is done and returns
// the state at that point. Observers of the transition have run by the
// time Wait returns, so it must not be called from an observer.
func (l *Loader) Wait(ctx context.Context) State {
	for {
		l.mu.Lock()
		if l.state != StateLoading {
			s := l.state
			for l.flushing || len(l.pending) > 0 {
				l.drained.Wait()
			}
			l.mu.Unlock()
			return s
		}
		ch := l.settled
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return l.State()
		}
	}
}

// reset claims a new generation and detaches the current task.
func (l *Loader) reset() (gen uint64, u string, old *fetch.Task) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.gen++
	old = l.task
	l.task = nil
	l.stopTimerLocked()
	return l.gen, l.url, old
}

// begin moves to Loading with task unless a newer Start or Cancel won.
func (l *Loader) begin(gen uint64, u string, task *fetch.Task) bool {
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return false
	}
	l.task = task
	l.started = time.Now()
	if l.span != nil {
		l.span.End()
	}
	l.spanCtx, l.span = telemetry.StartSpan(context.Background(), telemetry.SpanLoaderLoad,
		trace.WithAttributes(telemetry.URL(u), telemetry.TaskID(task.ID())),
	)
	if l.opts.Timeout > 0 {
		l.timer = time.AfterFunc(l.opts.Timeout, func() {
			l.dispatcher.Dispatch(func() { l.expire(gen) })
		})
	}
	// A miss has no image to show.
	l.transitionLocked(StateLoading, nil, nil)
	l.mu.Unlock()

	logger.Debug("loader fetching", logger.KeyURL, u, logger.KeyTaskID, task.ID())
	l.flush()
	return true
}

func (l *Loader) onComplete(gen uint64, key string, task *fetch.Task) {
	if !l.current(gen) {
		return
	}

	data := task.Data()
	img, err := l.decode(key, data)
	if err != nil {
		l.evict(key)
		l.finish(gen, StateFailed, nil, err, "decode_error")
		return
	}
	l.finish(gen, StateLoaded, img, nil, "network")
}

// shouldResume runs on the manager's work queue when the slot for key
// frees up. A decodable cache entry finishes the load from the cache and
// declines the fetch.
func (l *Loader) shouldResume(gen uint64, key string) bool {
	if !l.current(gen) {
		return false
	}

	img := l.fromCache(key, l.opts.ResumeTimeout)
	if img == nil {
		return true
	}
	l.dispatcher.Dispatch(func() { l.finish(gen, StateLoaded, img, nil, "cache_hit") })
	return false
}

// expire fails a load that outlived Options.Timeout. It claims a new
// generation so a callback already on its way is dropped.
func (l *Loader) expire(gen uint64) {
	l.mu.Lock()
	if gen != l.gen || l.state != StateLoading {
		l.mu.Unlock()
		return
	}
	l.gen++
	task := l.task
	l.task = nil
	l.timer = nil
	url := l.url
	l.recordLocked("timeout")
	l.transitionLocked(StateFailed, nil, ErrTimeout)
	l.mu.Unlock()

	logger.Info("image load timed out", logger.KeyURL, url, logger.KeyDurationMs, l.opts.Timeout.Milliseconds())
	if task != nil {
		task.Cancel()
	}
	l.flush()
}

// finish records a terminal state for generation gen.
func (l *Loader) finish(gen uint64, to State, img *Image, err error, outcome string) {
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	l.task = nil
	l.stopTimerLocked()
	url := l.url
	l.recordLocked(outcome)
	l.transitionLocked(to, img, err)
	l.mu.Unlock()

	if err != nil {
		logger.Debug("image load failed", logger.KeyURL, url, logger.KeyError, err.Error())
	}
	l.flush()
}

// recordLocked counts a finished load. Loads that never reached Loading
// count with zero latency.
func (l *Loader) recordLocked(outcome string) {
	var ms float64
	if l.state == StateLoading {
		ms = float64(time.Since(l.started).Microseconds()) / 1000
	}
	l.opts.Metrics.record(outcome, ms)
}

func (l *Loader) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return gen == l.gen
}

// fromCache returns the decoded cache entry for key, evicting entries
// that do not decode.
func (l *Loader) fromCache(key string, timeout time.Duration) *Image {
	if l.opts.Cache == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	data, err := l.opts.Cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cachestore.ErrNotFound) {
			logger.Warn("cache read failed", logger.KeyKey, key, logger.KeyError, err.Error())
		}
		return nil
	}

	img, err := l.decode(key, data)
	if err != nil {
		logger.Warn("evicting undecodable cache entry", logger.KeyKey, key, logger.KeyError, err.Error())
		l.evict(key)
		return nil
	}
	return img
}

func (l *Loader) decode(key string, data []byte) (*Image, error) {
	var (
		img    image.Image
		format string
		err    error
	)
	telemetry.ProfileDo(context.Background(), func(context.Context) {
		img, format, err = l.decoder.Decode(data)
	}, "op", "decode")
	if err != nil {
		return nil, &DecodeError{Key: key, Err: err}
	}
	return &Image{Data: data, Img: img, Format: format}, nil
}

func (l *Loader) evict(key string) {
	if l.opts.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.CacheTimeout)
	defer cancel()

	if err := l.opts.Cache.Evict(ctx, key); err != nil {
		logger.Warn("cache evict failed", logger.KeyKey, key, logger.KeyError, err.Error())
	}
}

func (l *Loader) stopTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// notification is a batch of observer calls computed under mu and run
// by flush after it is released.
type notification struct {
	image      bool
	img        *Image
	loading    bool
	isLoading  bool
	imageObs   []func(*Image)
	loadingObs []func(bool)
}

func (n notification) empty() bool { return !n.image && !n.loading }

func (n notification) emit() {
	if n.loading {
		for _, fn := range n.loadingObs {
			fn(n.isLoading)
		}
	}
	if n.image {
		for _, fn := range n.imageObs {
			fn(n.img)
		}
	}
}

// flush delivers pending notifications in order. One goroutine flushes at a
// time; when another one already is, including an observer's own goroutine
// further up the stack, flush leaves the work to it.
func (l *Loader) flush() {
	l.mu.Lock()
	if l.flushing {
		l.mu.Unlock()
		return
	}
	l.flushing = true
	for len(l.pending) > 0 {
		n := l.pending[0]
		l.pending = l.pending[1:]
		l.mu.Unlock()
		l.emit(n)
		l.mu.Lock()
	}
	l.flushing = false
	l.pending = nil
	l.drained.Broadcast()
	l.mu.Unlock()
}

// emit runs n's observers. A panicking observer stops the flush without
// leaving the Loader marked as flushing.
func (l *Loader) emit(n notification) {
	ok := false
	defer func() {
		if ok {
			return
		}
		l.mu.Lock()
		l.flushing = false
		l.drained.Broadcast()
		l.mu.Unlock()
	}()
	n.emit()
	ok = true
}

// transitionLocked applies a state change and queues the notifications it
// causes for flush. Leaving Loading ends the load span and wakes Wait
// callers.
func (l *Loader) transitionLocked(to State, img *Image, err error) {
	n := l.transition(to, img, err)
	if !n.empty() {
		l.pending = append(l.pending, n)
	}
}

func (l *Loader) transition(to State, img *Image, err error) notification {
	from := l.state
	l.state = to
	l.err = err

	var n notification
	if img != l.img {
		l.img = img
		n.image = true
		n.img = img
		for _, o := range l.imageObs {
			n.imageObs = append(n.imageObs, o.fn)
		}
	}

	wasLoading, isLoading := from == StateLoading, to == StateLoading
	if wasLoading == isLoading {
		return n
	}
	n.loading = true
	n.isLoading = isLoading
	for _, o := range l.loadingObs {
		n.loadingObs = append(n.loadingObs, o.fn)
	}

	if isLoading {
		l.settled = make(chan struct{})
		return n
	}

	close(l.settled)
	if l.span != nil {
		l.span.SetAttributes(telemetry.LoaderState(to.String()))
		if err != nil {
			telemetry.RecordError(l.spanCtx, err)
		}
		l.span.End()
		l.span, l.spanCtx = nil, nil
	}
	return n
}
