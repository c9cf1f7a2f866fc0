package update

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	appErrors "updateinfo/internal/errors"
	"updateinfo/internal/manifest"

	"github.com/google/go-cmp/cmp"
)

const scenarioPayload = `{
  "channels": [
    {
      "name": "stable",
      "description": "Tested releases",
      "versions": [
        {"version": "4.0.4958", "date": "2024-02-20T00:00:00Z"},
        {"version": "4.1.5902", "date": "2024-06-01T00:00:00Z"}
      ],
      "changelog": [
        {"version": "4.1.5902", "date": "2024-06-01T00:00:00Z", "items": [
          {"author": "alice", "commit": "a1b2c3d4e5", "body": "Faster loading"},
          {"author": "bob", "commit": "b2c3d4e5f6", "body": "Fix crash on exit"},
          {"author": "carol", "commit": "c3d4e5f6a7", "body": "New theme"}
        ]}
      ]
    },
    {
      "name": "dev",
      "description": "Nightly builds",
      "versions": [{"version": "4.2.6001", "date": "2024-06-10T00:00:00Z"}]
    }
  ]
}`

type fakeTransport struct {
	calls   atomic.Int32
	payload []byte
	err     error
	release chan struct{}
}

func (t *fakeTransport) FetchManifest(ctx context.Context) ([]byte, error) {
	t.calls.Add(1)
	if t.release != nil {
		select {
		case <-t.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return t.payload, t.err
}

type panickingDecoder struct{}

func (panickingDecoder) Parse([]byte) ([]manifest.ChannelRecord, error) {
	panic("boom")
}

func waitDone(t *testing.T, f *Fetcher) FetchError {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fetchErr, err := f.Wait(ctx)
	if err != nil {
		t.Fatalf("fetch did not complete: %v", err)
	}
	return fetchErr
}

func channelNames(chs []Channel) []string {
	var names []string
	for _, ch := range chs {
		names = append(names, ch.Name)
	}
	return names
}

func TestFetcherObserversBeforeStart(t *testing.T) {
	f := NewFetcher(&fakeTransport{payload: []byte(scenarioPayload)}, WithPreference(StaticPreference("stable")))

	if f.FetchStarted() {
		t.Error("FetchStarted() should be false before StartFetch")
	}
	if f.Done() {
		t.Error("Done() should be false before StartFetch")
	}
	if f.State() != StateNotStarted {
		t.Errorf("State() = %s, want %s", f.State(), StateNotStarted)
	}
	if f.FetchError() != NoError {
		t.Errorf("FetchError() = %s, want none", f.FetchError())
	}
	if len(f.Channels()) != 0 {
		t.Error("Channels() should be empty before completion")
	}
	if _, ok := f.ActiveChannel(); ok {
		t.Error("ActiveChannel() should be absent before completion")
	}
	if !f.CompletedAt().IsZero() {
		t.Error("CompletedAt() should be zero before completion")
	}
}

func TestFetcherScenarioWellFormedPayload(t *testing.T) {
	transport := &fakeTransport{payload: []byte(scenarioPayload)}
	f := NewFetcher(transport, WithPreference(StaticPreference("stable")))

	if !f.StartFetch() {
		t.Fatal("first StartFetch() should return true")
	}
	if got := waitDone(t, f); got != NoError {
		t.Fatalf("FetchError = %s, want none (cause: %v)", got, f.Err())
	}

	chs := f.Channels()
	if diff := cmp.Diff([]string{"stable", "dev"}, channelNames(chs)); diff != "" {
		t.Fatalf("channels mismatch (-want +got):\n%s", diff)
	}
	stable, dev := chs[0], chs[1]
	if len(stable.Versions) != 2 {
		t.Errorf("stable versions = %d, want 2", len(stable.Versions))
	}
	if len(stable.Changelog) != 1 || len(stable.Changelog[0].Items) != 3 {
		t.Errorf("stable changelog = %+v, want 1 entry with 3 items", stable.Changelog)
	}
	var authors []string
	for _, it := range stable.Changelog[0].Items {
		authors = append(authors, it.Author)
	}
	if diff := cmp.Diff([]string{"alice", "bob", "carol"}, authors); diff != "" {
		t.Errorf("item order mismatch (-want +got):\n%s", diff)
	}
	if len(dev.Versions) != 1 || len(dev.Changelog) != 0 {
		t.Errorf("dev = %d versions / %d entries, want 1 / 0", len(dev.Versions), len(dev.Changelog))
	}
	if f.Err() != nil {
		t.Errorf("Err() = %v, want nil", f.Err())
	}
	if f.CompletedAt().IsZero() {
		t.Error("CompletedAt() should be set after completion")
	}

	active, ok := f.ActiveChannel()
	if !ok || active.Name != "stable" {
		t.Errorf("ActiveChannel() = %q, %v; want stable", active.Name, ok)
	}
}

func TestFetcherScenarioConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	f := NewFetcher(manifest.NewHTTPSource(url, manifest.WithTimeout(time.Second)))
	f.StartFetch()

	if got := waitDone(t, f); got != ConnectionError {
		t.Fatalf("FetchError = %s, want connection", got)
	}
	if len(f.Channels()) != 0 {
		t.Error("Channels() should be empty after a connection error")
	}
	if !appErrors.IsCode(f.Err(), appErrors.CodeConnection) {
		t.Errorf("Err() code = %s, want %s", appErrors.CodeOf(f.Err()), appErrors.CodeConnection)
	}
	if !errors.Is(f.Err(), manifest.ErrNetworkFailure) {
		t.Errorf("Err() = %v, want wrapped ErrNetworkFailure", f.Err())
	}
}

func TestFetcherScenarioMissingRequiredField(t *testing.T) {
	payload := `{"channels": [
		{"name": "stable", "versions": [{"version": "4.1.5902", "date": "2024-06-01T00:00:00Z"}]},
		{"name": "dev", "versions": [{"version": "4.2.6001"}]}
	]}`
	f := NewFetcher(&fakeTransport{payload: []byte(payload)}, WithPreference(StaticPreference("stable")))
	f.StartFetch()

	if got := waitDone(t, f); got != DeserError {
		t.Fatalf("FetchError = %s, want deserialize", got)
	}
	if len(f.Channels()) != 0 {
		t.Error("Channels() should be empty after a deserialization error")
	}
	if _, ok := f.ActiveChannel(); ok {
		t.Error("ActiveChannel() should be absent after a failed fetch")
	}
	if !appErrors.IsCode(f.Err(), appErrors.CodeDeserialize) {
		t.Errorf("Err() code = %s, want %s", appErrors.CodeOf(f.Err()), appErrors.CodeDeserialize)
	}
}

func TestFetcherInvalidVersionIsDeserError(t *testing.T) {
	payload := `{"channels": [{"name": "stable", "versions": [{"version": "four", "date": "2024-06-01T00:00:00Z"}]}]}`
	f := NewFetcher(&fakeTransport{payload: []byte(payload)})
	f.StartFetch()

	if got := waitDone(t, f); got != DeserError {
		t.Fatalf("FetchError = %s, want deserialize", got)
	}
	if !appErrors.IsCode(f.Err(), appErrors.CodeInvalidManifest) {
		t.Errorf("Err() code = %s, want %s", appErrors.CodeOf(f.Err()), appErrors.CodeInvalidManifest)
	}
}

func TestFetcherScenarioActiveChannelAbsent(t *testing.T) {
	f := NewFetcher(&fakeTransport{payload: []byte(scenarioPayload)}, WithPreference(StaticPreference("beta")))
	f.StartFetch()

	if got := waitDone(t, f); got != NoError {
		t.Fatalf("FetchError = %s, want none", got)
	}
	if ch, ok := f.ActiveChannel(); ok {
		t.Errorf("ActiveChannel() = %q, want none", ch.Name)
	}
	if _, ok := f.Channel("dev"); !ok {
		t.Error("Channel(dev) should be found")
	}
}

func TestFetcherPreferenceReadOnEveryCall(t *testing.T) {
	pref := &switchablePreference{name: "stable"}
	f := NewFetcher(&fakeTransport{payload: []byte(scenarioPayload)}, WithPreference(pref))
	f.StartFetch()
	waitDone(t, f)

	if ch, _ := f.ActiveChannel(); ch.Name != "stable" {
		t.Fatalf("ActiveChannel() = %q, want stable", ch.Name)
	}
	pref.set("dev")
	if ch, _ := f.ActiveChannel(); ch.Name != "dev" {
		t.Fatalf("ActiveChannel() after switch = %q, want dev", ch.Name)
	}
}

type switchablePreference struct {
	mu   sync.Mutex
	name string
}

func (p *switchablePreference) set(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
}

func (p *switchablePreference) ActiveChannelName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

func TestFetcherConcurrentStartRunsOnce(t *testing.T) {
	transport := &fakeTransport{payload: []byte(scenarioPayload), release: make(chan struct{})}
	f := NewFetcher(transport)

	const callers = 64
	var started atomic.Int32
	var wg sync.WaitGroup
	gate := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			if f.StartFetch() {
				started.Add(1)
			}
		}()
	}
	close(gate)
	wg.Wait()
	close(transport.release)
	waitDone(t, f)

	if got := started.Load(); got != 1 {
		t.Errorf("StartFetch() returned true %d times, want 1", got)
	}
	if got := transport.calls.Load(); got != 1 {
		t.Errorf("transport called %d times, want 1", got)
	}
	if f.StartFetch() {
		t.Error("StartFetch() after completion should be a no-op")
	}
	if got := transport.calls.Load(); got != 1 {
		t.Errorf("transport called %d times after late StartFetch, want 1", got)
	}
}

func TestFetcherStateWhileInFlight(t *testing.T) {
	transport := &fakeTransport{payload: []byte(scenarioPayload), release: make(chan struct{})}
	f := NewFetcher(transport)
	f.StartFetch()

	if !f.FetchStarted() {
		t.Error("FetchStarted() should be true while fetching")
	}
	if f.Done() {
		t.Error("Done() should be false while transport is blocked")
	}
	if f.State() != StateFetching {
		t.Errorf("State() = %s, want %s", f.State(), StateFetching)
	}
	if len(f.Channels()) != 0 {
		t.Error("Channels() should be empty while fetching")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}

	close(transport.release)
	waitDone(t, f)
	select {
	case <-f.Completed():
	default:
		t.Error("Completed() channel should be closed after completion")
	}
	if f.State() != StateDone {
		t.Errorf("State() = %s, want %s", f.State(), StateDone)
	}
}

func TestFetcherPublishAtomicity(t *testing.T) {
	payloads := []struct {
		name    string
		payload string
		err     error
	}{
		{name: "success", payload: scenarioPayload},
		{name: "deser", payload: `{"channels": [{"name": "stable", "versions": [{"version": "x"}]}]}`},
		{name: "connection", err: errors.New("connection refused")},
	}

	for _, p := range payloads {
		t.Run(p.name, func(t *testing.T) {
			for round := 0; round < 20; round++ {
				f := NewFetcher(&fakeTransport{payload: []byte(p.payload), err: p.err})

				var wg sync.WaitGroup
				violations := make(chan string, 64)
				for r := 0; r < 4; r++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						for {
							done := f.Done()
							chs := f.Channels()
							if n := len(chs); n != 0 && n != 2 {
								violations <- "partial store observed"
								return
							}
							if done {
								e := f.FetchError()
								n := len(f.Channels())
								if (e == NoError && n != 2) || (e != NoError && n != 0) {
									violations <- "done with inconsistent store"
								}
								return
							}
						}
					}()
				}
				f.StartFetch()
				wg.Wait()
				close(violations)
				for v := range violations {
					t.Fatalf("round %d: %s", round, v)
				}
			}
		})
	}
}

func TestFetcherSingleCurrentVersion(t *testing.T) {
	payload := `{"channels": [
		{"name": "stable", "versions": [
			{"version": "4.1.5902", "date": "2024-06-01T00:00:00Z"},
			{"version": "4.0.4958", "date": "2024-02-20T00:00:00Z"}
		]},
		{"name": "dev", "versions": [
			{"version": "4.1.5902", "date": "2024-06-01T00:00:00Z"},
			{"version": "4.2.6001", "date": "2024-06-10T00:00:00Z"}
		]}
	]}`
	f := NewFetcher(&fakeTransport{payload: []byte(payload)}, WithRunningVersion("v4.1.5902"))
	f.StartFetch()
	waitDone(t, f)

	current := 0
	for _, ch := range f.Channels() {
		for _, v := range ch.Versions {
			if v.IsCurrent {
				current++
			}
		}
	}
	if current != 1 {
		t.Fatalf("IsCurrent set on %d versions, want 1", current)
	}
	if v, ok := f.Channels()[0].Current(); !ok || v.Display != "4.1.5902" {
		t.Errorf("stable current = %+v, %v", v, ok)
	}
}

func TestFetcherNoRunningMatchIsValid(t *testing.T) {
	f := NewFetcher(&fakeTransport{payload: []byte(scenarioPayload)}, WithRunningVersion("9.9.9"))
	f.StartFetch()
	if got := waitDone(t, f); got != NoError {
		t.Fatalf("FetchError = %s, want none", got)
	}
	for _, ch := range f.Channels() {
		if _, ok := ch.Current(); ok {
			t.Errorf("channel %s has a current version, want none", ch.Name)
		}
	}
}

func TestFetcherSubscribersNotifiedOnce(t *testing.T) {
	transport := &fakeTransport{payload: []byte(scenarioPayload), release: make(chan struct{})}
	f := NewFetcher(transport)

	var mu sync.Mutex
	var got []FetchError
	var pending sync.WaitGroup
	record := func(e FetchError) {
		defer pending.Done()
		// Result must already be visible when subscribers run.
		if !f.Done() || len(f.Channels()) != 2 {
			t.Error("subscriber ran before the store was committed")
		}
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}
	pending.Add(2)
	f.Subscribe(record)
	f.Subscribe(record)
	dropped := f.Subscribe(func(FetchError) {
		t.Error("unsubscribed callback should not run")
	})
	if !f.Unsubscribe(dropped) {
		t.Error("Unsubscribe() should remove a pending subscription")
	}

	f.StartFetch()
	close(transport.release)
	waitDone(t, f)
	pending.Wait()

	// Late subscribers are called immediately, on the caller's goroutine.
	pending.Add(1)
	f.Subscribe(record)
	pending.Wait()

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]FetchError{NoError, NoError, NoError}, got); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
	if f.Unsubscribe(dropped) {
		t.Error("Unsubscribe() of an unknown id should return false")
	}
}

func TestFetcherSubscriberPanicContained(t *testing.T) {
	transport := &fakeTransport{payload: []byte(scenarioPayload), release: make(chan struct{})}
	f := NewFetcher(transport)

	notified := make(chan FetchError, 1)
	f.Subscribe(func(FetchError) { panic("subscriber bug") })
	f.Subscribe(func(e FetchError) { notified <- e })

	f.StartFetch()
	close(transport.release)

	select {
	case e := <-notified:
		if e != NoError {
			t.Errorf("notified with %s, want %s", e, NoError)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber after a panicking one was never notified")
	}
	if !f.Done() || len(f.Channels()) != 2 {
		t.Error("store should stay committed after a subscriber panic")
	}
}

func TestFetcherSubscribeNil(t *testing.T) {
	f := NewFetcher(&fakeTransport{payload: []byte(scenarioPayload)})
	f.Subscribe(nil)
	f.StartFetch()
	waitDone(t, f)
}

func TestFetcherDecoderPanicBecomesDeserError(t *testing.T) {
	f := NewFetcher(&fakeTransport{payload: []byte(scenarioPayload)}, WithDecoder(panickingDecoder{}))
	f.StartFetch()

	if got := waitDone(t, f); got != DeserError {
		t.Fatalf("FetchError = %s, want deserialize", got)
	}
}

func TestFetcherTimeoutIsConnectionError(t *testing.T) {
	transport := &fakeTransport{payload: []byte(scenarioPayload), release: make(chan struct{})}
	defer close(transport.release)
	f := NewFetcher(transport, WithFetchTimeout(20*time.Millisecond))
	f.StartFetch()

	if got := waitDone(t, f); got != ConnectionError {
		t.Fatalf("FetchError = %s, want connection", got)
	}
	if !errors.Is(f.Err(), context.DeadlineExceeded) {
		t.Errorf("Err() = %v, want deadline exceeded", f.Err())
	}
}

func TestFetcherNilTransport(t *testing.T) {
	f := NewFetcher(nil)
	f.StartFetch()
	if got := waitDone(t, f); got != ConnectionError {
		t.Fatalf("FetchError = %s, want connection", got)
	}
}

func TestFetchErrorString(t *testing.T) {
	tests := []struct {
		e    FetchError
		want string
	}{
		{NoError, "none"},
		{ConnectionError, "connection"},
		{DeserError, "deserialize"},
		{FetchError(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.e.String(); got != tt.want {
			t.Errorf("FetchError(%d).String() = %q, want %q", tt.e, got, tt.want)
		}
	}
}
