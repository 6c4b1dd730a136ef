// Package spinner shows progress on the terminal while training or generation runs.
// On a terminal it animates in place; otherwise it prints one line per state change.
package spinner

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	hideCursor = "\033[?25l"
	showCursor = "\033[?25h"

	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

// Frames used for the animation.
var Frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Options configures a Spinner.
type Options struct {
	Writer   io.Writer     // default os.Stderr
	Interval time.Duration // default 80ms

	// TTY forces animation on or off. Nil detects it from Writer.
	TTY *bool
}

// Spinner is a single-line progress indicator.
type Spinner struct {
	mu       sync.Mutex
	w        io.Writer
	interval time.Duration
	tty      bool

	message string
	started time.Time
	active  bool
	frame   int
	width   int

	stop chan struct{}
	done chan struct{}
}

// New creates a stopped spinner.
func New(message string, opts Options) *Spinner {
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}
	if opts.Interval <= 0 {
		opts.Interval = 80 * time.Millisecond
	}
	tty := isTerminal(opts.Writer)
	if opts.TTY != nil {
		tty = *opts.TTY
	}
	return &Spinner{w: opts.Writer, interval: opts.Interval, tty: tty, message: message}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Start begins animating. Calling Start on a running spinner does nothing.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.started = time.Now()
	s.frame = 0

	if !s.tty {
		fmt.Fprintf(s.w, "%s...\n", s.message)
		return
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	fmt.Fprint(s.w, hideCursor)
	go s.loop(s.stop, s.done)
}

func (s *Spinner) loop(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.draw()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.draw()
		}
	}
}

func (s *Spinner) draw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	line := fmt.Sprintf("%s %s %s", Frames[s.frame%len(Frames)], s.message, Elapsed(time.Since(s.started)))
	s.frame++
	s.erase()
	fmt.Fprint(s.w, line)
	s.width = len([]rune(line))
}

// erase blanks the current line. Caller holds mu.
func (s *Spinner) erase() {
	if s.width > 0 {
		fmt.Fprint(s.w, "\r"+strings.Repeat(" ", s.width)+"\r")
		s.width = 0
	}
}

// Update replaces the message. Off a terminal the new message is printed.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if message == s.message {
		return
	}
	s.message = message
	if s.active && !s.tty {
		fmt.Fprintf(s.w, "%s...\n", message)
	}
}

// Message returns the current message.
func (s *Spinner) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// Active reports whether the spinner is running.
func (s *Spinner) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stop halts the animation and clears its line. Safe to call more than once.
func (s *Spinner) Stop() {
	s.halt()
}

// Success stops the spinner and prints a check mark with message (or the
// current message when empty).
func (s *Spinner) Success(message string) { s.finish("✓", colorGreen, message) }

// Fail stops the spinner and prints a cross with message.
func (s *Spinner) Fail(message string) { s.finish("✗", colorRed, message) }

func (s *Spinner) finish(symbol, color, message string) {
	elapsed := s.halt()

	s.mu.Lock()
	defer s.mu.Unlock()
	if message == "" {
		message = s.message
	}
	if s.tty {
		fmt.Fprintf(s.w, "%s%s%s %s %s\n", color, symbol, colorReset, message, Elapsed(elapsed))
		return
	}
	fmt.Fprintf(s.w, "%s %s %s\n", symbol, message, Elapsed(elapsed))
}

// halt stops the loop and returns how long the spinner ran.
func (s *Spinner) halt() time.Duration {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return 0
	}
	s.active = false
	elapsed := time.Since(s.started)
	stop, done, tty := s.stop, s.done, s.tty
	s.mu.Unlock()

	if !tty {
		return elapsed
	}
	close(stop)
	<-done

	s.mu.Lock()
	s.erase()
	fmt.Fprint(s.w, showCursor)
	s.mu.Unlock()
	return elapsed
}

// Elapsed formats d as "(1.2s)" under a minute and "(1m 30s)" above.
func Elapsed(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("(%.1fs)", d.Seconds())
	}
	return fmt.Sprintf("(%dm %ds)", int(d.Minutes()), int(d.Seconds())%60)
}

// Track runs fn under a spinner and reports success or failure when it returns.
func Track(message string, opts Options, fn func(update func(string)) error) error {
	s := New(message, opts)
	s.Start()
	err := fn(s.Update)
	if err != nil {
		s.Fail(message + " failed")
		return err
	}
	s.Success("")
	return nil
}
