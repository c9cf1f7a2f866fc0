package update

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"updateinfo/internal/debug"
	appErrors "updateinfo/internal/errors"
	"updateinfo/internal/manifest"

	"github.com/google/uuid"
)

// DefaultFetchTimeout bounds the background fetch when no timeout is set.
const DefaultFetchTimeout = 30 * time.Second

// Transport retrieves the raw manifest. manifest.Source implementations satisfy it.
type Transport interface {
	FetchManifest(ctx context.Context) ([]byte, error)
}

// Deserializer decodes raw manifest bytes into channel records.
type Deserializer interface {
	Parse(data []byte) ([]manifest.ChannelRecord, error)
}

// ChannelPreference names the channel the user follows.
type ChannelPreference interface {
	ActiveChannelName() string
}

// StaticPreference is a fixed channel name.
type StaticPreference string

// ActiveChannelName returns the name itself.
func (p StaticPreference) ActiveChannelName() string { return string(p) }

// State is the fetch lifecycle position.
type State int32

const (
	StateNotStarted State = iota
	StateFetching
	StateDone
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateFetching:
		return "fetching"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// snapshot is the committed fetch result. It is immutable once stored.
type snapshot struct {
	channels    []Channel
	index       map[string]int
	fetchErr    FetchError
	cause       error
	completedAt time.Time
}

type subscriber struct {
	id uuid.UUID
	fn func(FetchError)
}

// Fetcher runs a single manifest fetch and serves its result.
//
// The result is published through one atomically swapped snapshot, stored
// before the state flips to done, so a reader that sees Done() == true also
// sees the complete channel list and error code.
type Fetcher struct {
	transport Transport
	decoder   Deserializer
	pref      ChannelPreference
	running   Number
	timeout   time.Duration
	now       func() time.Time
	logf      func(format string, v ...any)

	state  atomic.Int32
	result atomic.Pointer[snapshot]
	done   chan struct{}

	mu          sync.Mutex // guards subscribers and notified
	subscribers []subscriber
	notified    bool
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithDecoder sets the manifest deserializer.
func WithDecoder(d Deserializer) FetcherOption {
	return func(f *Fetcher) {
		if d != nil {
			f.decoder = d
		}
	}
}

// WithPreference sets where the active channel name comes from.
func WithPreference(p ChannelPreference) FetcherOption {
	return func(f *Fetcher) {
		if p != nil {
			f.pref = p
		}
	}
}

// WithRunningVersion sets the version of the running build. Unparseable
// values (e.g. "dev") leave no version marked current.
func WithRunningVersion(v string) FetcherOption {
	return func(f *Fetcher) {
		n, err := ParseNumber(v)
		if err != nil {
			f.running = Number{}
			return
		}
		f.running = n
	}
}

// WithFetchTimeout bounds the whole background fetch.
func WithFetchTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// NewFetcher creates a Fetcher that will read the manifest from transport.
// Nothing happens until StartFetch is called.
func NewFetcher(transport Transport, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		transport: transport,
		decoder:   manifest.NewDecoder(manifest.FormatAuto),
		pref:      StaticPreference(""),
		timeout:   DefaultFetchTimeout,
		now:       time.Now,
		logf:      debug.Scope("update"),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// StartFetch launches the background fetch the first time it is called and
// returns true. Every later call is a no-op returning false. It never blocks.
func (f *Fetcher) StartFetch() bool {
	if !f.state.CompareAndSwap(int32(StateNotStarted), int32(StateFetching)) {
		return false
	}
	f.logf("state %s -> %s", StateNotStarted, StateFetching)
	go f.run()
	return true
}

func (f *Fetcher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	start := f.now()
	var raw []byte
	err := guard(func() error {
		if f.transport == nil {
			return fmt.Errorf("no transport configured")
		}
		var ferr error
		raw, ferr = f.transport.FetchManifest(ctx)
		return ferr
	})
	if err != nil {
		f.logf("transport failed after %s: %v", f.now().Sub(start), err)
		f.commit(nil, ConnectionError, appErrors.New(appErrors.CodeConnection, "fetch manifest", err))
		return
	}
	f.logf("received %d bytes in %s", len(raw), f.now().Sub(start))

	var records []manifest.ChannelRecord
	err = guard(func() error {
		var perr error
		records, perr = f.decoder.Parse(raw)
		return perr
	})
	if err != nil {
		f.logf("decode failed: %v", err)
		f.commit(nil, DeserError, appErrors.New(appErrors.CodeDeserialize, "decode manifest", err))
		return
	}

	var channels []Channel
	err = guard(func() error {
		var berr error
		channels, berr = buildChannels(records, f.running)
		return berr
	})
	if err != nil {
		f.logf("invalid manifest: %v", err)
		f.commit(nil, DeserError, appErrors.New(appErrors.CodeInvalidManifest, "build channels", err))
		return
	}

	f.commit(channels, NoError, nil)
}

// guard runs fn and converts a panic into an error so the fetch always
// reaches a terminal state.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// commit publishes the result, flips the state to done and notifies
// subscribers, in that order.
func (f *Fetcher) commit(channels []Channel, fetchErr FetchError, cause error) {
	if fetchErr != NoError {
		channels = nil
	}
	index := make(map[string]int, len(channels))
	for i, ch := range channels {
		index[ch.Name] = i
	}
	f.result.Store(&snapshot{
		channels:    channels,
		index:       index,
		fetchErr:    fetchErr,
		cause:       cause,
		completedAt: f.now(),
	})
	f.state.Store(int32(StateDone))
	close(f.done)
	f.logf("state %s -> %s (error=%s, channels=%d)", StateFetching, StateDone, fetchErr, len(channels))

	f.mu.Lock()
	f.notified = true
	subs := f.subscribers
	f.subscribers = nil
	f.mu.Unlock()

	// Subscriber panics are contained so later subscribers still run.
	for _, s := range subs {
		if err := guard(func() error { s.fn(fetchErr); return nil }); err != nil {
			f.logf("subscriber %s: %v", s.id, err)
		}
	}
}

// State returns the current lifecycle position.
func (f *Fetcher) State() State {
	return State(f.state.Load())
}

// FetchStarted reports whether StartFetch has been called.
func (f *Fetcher) FetchStarted() bool {
	return f.State() != StateNotStarted
}

// Done reports whether the fetch has finished, successfully or not.
func (f *Fetcher) Done() bool {
	return f.State() == StateDone
}

// FetchError returns the fetch outcome. Before Done it is NoError and carries
// no meaning.
func (f *Fetcher) FetchError() FetchError {
	if s := f.result.Load(); s != nil {
		return s.fetchErr
	}
	return NoError
}

// Err returns the underlying cause of a failed fetch, for diagnostics.
func (f *Fetcher) Err() error {
	if s := f.result.Load(); s != nil {
		return s.cause
	}
	return nil
}

// CompletedAt returns when the fetch finished; zero before Done.
func (f *Fetcher) CompletedAt() time.Time {
	if s := f.result.Load(); s != nil {
		return s.completedAt
	}
	return time.Time{}
}

// Channels returns the fetched channels in published order. It is empty
// before completion and after a failed fetch. The returned slice is a copy;
// the Channels inside share storage with the store and must not be modified.
func (f *Fetcher) Channels() []Channel {
	s := f.result.Load()
	if s == nil {
		return nil
	}
	return slices.Clone(s.channels)
}

// Channel looks up a fetched channel by name.
func (f *Fetcher) Channel(name string) (Channel, bool) {
	s := f.result.Load()
	if s == nil {
		return Channel{}, false
	}
	i, ok := s.index[strings.TrimSpace(name)]
	if !ok {
		return Channel{}, false
	}
	return s.channels[i], true
}

// ActiveChannel returns the channel named by the preference, or false when
// nothing has been fetched or the name is not among the fetched channels.
func (f *Fetcher) ActiveChannel() (Channel, bool) {
	return f.Channel(f.pref.ActiveChannelName())
}

// Completed returns a channel that is closed once the fetch is done.
func (f *Fetcher) Completed() <-chan struct{} {
	return f.done
}

// Wait blocks until the fetch is done or ctx ends.
func (f *Fetcher) Wait(ctx context.Context) (FetchError, error) {
	select {
	case <-f.done:
		return f.FetchError(), nil
	case <-ctx.Done():
		return NoError, ctx.Err()
	}
}

// Subscribe registers fn to receive the fetch outcome exactly once. If the
// fetch is already done, fn runs immediately on the calling goroutine;
// otherwise it runs on the fetch goroutine after the result is visible.
// fn must not block for long.
func (f *Fetcher) Subscribe(fn func(FetchError)) uuid.UUID {
	id := uuid.New()
	if fn == nil {
		return id
	}

	f.mu.Lock()
	if !f.notified {
		f.subscribers = append(f.subscribers, subscriber{id: id, fn: fn})
		f.mu.Unlock()
		return id
	}
	f.mu.Unlock()

	fn(f.FetchError())
	return id
}

// Unsubscribe removes a pending subscription. It returns false if id is
// unknown or the notification was already delivered.
func (f *Fetcher) Unsubscribe(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subscribers {
		if s.id == id {
			f.subscribers = slices.Delete(f.subscribers, i, i+1)
			return true
		}
	}
	return false
}
