package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const defaultSpinnerInterval = 120 * time.Millisecond

// fetchStage is a step of the startup fetch shown next to the spinner.
type fetchStage int

const (
	stageResolving fetchStage = iota
	stageFetching
)

// fetchAnimator shows progress while the manifest is fetched.
type fetchAnimator interface {
	Stage(stage fetchStage, detail string)
	Stop()
}

type spinnerEvent struct {
	stage  fetchStage
	detail string
}

type fetchSpinner struct {
	writer        io.Writer
	delay         time.Duration
	frameInterval time.Duration
	frames        []rune

	events chan spinnerEvent
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	mu       sync.Mutex
	frameIdx int
}

func newFetchSpinner(w io.Writer, delay time.Duration) *fetchSpinner {
	return newCustomFetchSpinner(w, delay, defaultSpinnerInterval)
}

func newCustomFetchSpinner(w io.Writer, delay, frameInterval time.Duration) *fetchSpinner {
	if w == nil {
		w = io.Discard
	}
	sp := &fetchSpinner{
		writer:        w,
		delay:         delay,
		frameInterval: frameInterval,
		frames:        []rune{'|', '/', '-', '\\'},
		events:        make(chan spinnerEvent, 8),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go sp.loop()
	return sp
}

func (s *fetchSpinner) Stage(stage fetchStage, detail string) {
	if s == nil {
		return
	}
	select {
	case <-s.stopCh:
		return
	default:
	}
	select {
	case s.events <- spinnerEvent{stage: stage, detail: detail}:
	default:
	}
}

// Stop clears the spinner line. Safe to call more than once and from any
// goroutine.
func (s *fetchSpinner) Stop() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
}

func (s *fetchSpinner) loop() {
	defer close(s.doneCh)

	var delayCh <-chan time.Time
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		delayCh = timer.C
	}

	ticker := time.NewTicker(s.frameInterval)
	defer ticker.Stop()

	var current spinnerEvent
	hasStage := false
	visible := s.delay == 0

	for {
		select {
		case <-s.stopCh:
			if visible && hasStage {
				s.clearLine()
			}
			return
		case ev := <-s.events:
			current = ev
			hasStage = true
			if visible {
				s.render(current)
			}
		case <-ticker.C:
			if visible && hasStage {
				s.render(current)
			}
		case <-delayCh:
			delayCh = nil
			visible = true
			if hasStage {
				s.render(current)
			}
		}
	}
}

func (s *fetchSpinner) render(ev spinnerEvent) {
	frame := s.nextFrame()
	message := formatStageMessage(ev.stage, ev.detail)
	_, _ = fmt.Fprintf(s.writer, "\r\033[2K%c %s", frame, message)
}

func (s *fetchSpinner) clearLine() {
	_, _ = fmt.Fprint(s.writer, "\r\033[2K")
}

func (s *fetchSpinner) nextFrame() rune {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame := s.frames[s.frameIdx%len(s.frames)]
	s.frameIdx++
	return frame
}

var stageMessages = map[fetchStage]string{
	stageResolving: "Locating update server...",
	stageFetching:  "Checking for updates...",
}

func formatStageMessage(stage fetchStage, detail string) string {
	msg := stageMessages[stage]
	if strings.TrimSpace(msg) == "" {
		msg = "Working..."
	}
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return msg
	}
	return fmt.Sprintf("%s - %s", msg, detail)
}
