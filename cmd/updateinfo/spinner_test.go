package main

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFetchSpinnerRendersStage(t *testing.T) {
	var out syncBuffer
	sp := newCustomFetchSpinner(&out, 0, 5*time.Millisecond)
	sp.Stage(stageFetching, "file:///tmp/channels.json")

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "Checking for updates...") {
		if time.Now().After(deadline) {
			t.Fatalf("spinner never rendered stage, got %q", out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	sp.Stop()

	got := out.String()
	if !strings.Contains(got, "file:///tmp/channels.json") {
		t.Errorf("expected detail in output, got %q", got)
	}
	if !strings.HasSuffix(got, "\r\033[2K") {
		t.Errorf("expected line cleared on stop, got %q", got)
	}
}

func TestFetchSpinnerDelaySuppressesFastFetch(t *testing.T) {
	var out syncBuffer
	sp := newCustomFetchSpinner(&out, time.Hour, time.Millisecond)
	sp.Stage(stageFetching, "")
	time.Sleep(20 * time.Millisecond)
	sp.Stop()

	if got := out.String(); got != "" {
		t.Errorf("spinner should stay hidden before delay, got %q", got)
	}
}

func TestFetchSpinnerStopIdempotent(t *testing.T) {
	sp := newFetchSpinner(nil, 0)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sp.Stop()
		}()
	}
	wg.Wait()
	sp.Stage(stageResolving, "after stop")

	var nilSpinner *fetchSpinner
	nilSpinner.Stage(stageFetching, "")
	nilSpinner.Stop()
}

func TestFormatStageMessage(t *testing.T) {
	tests := []struct {
		stage  fetchStage
		detail string
		want   string
	}{
		{stageFetching, "", "Checking for updates..."},
		{stageResolving, "  https://example.test  ", "Locating update server... - https://example.test"},
		{fetchStage(99), "", "Working..."},
	}
	for _, tt := range tests {
		if got := formatStageMessage(tt.stage, tt.detail); got != tt.want {
			t.Errorf("formatStageMessage(%d, %q) = %q, want %q", tt.stage, tt.detail, got, tt.want)
		}
	}
}
