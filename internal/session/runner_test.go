package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"

	"thirdcoast.systems/zdownload/pkg/provision"
	"thirdcoast.systems/zdownload/pkg/supervisor"
	"thirdcoast.systems/zdownload/pkg/ytdlp"
)

// TestHelperProcess plays the downloader. The first argument after "--" is
// the URL, whose last path segment selects the behaviour.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "no url")
		os.Exit(2)
	}

	mode := args[0][strings.LastIndex(args[0], "/")+1:]
	switch {
	case strings.HasPrefix(mode, "lines-"):
		parts := strings.Split(strings.TrimPrefix(mode, "lines-"), "-")
		n, _ := strconv.Atoi(parts[0])
		m, _ := strconv.Atoi(parts[1])
		for i := 0; i < n; i++ {
			fmt.Fprintf(os.Stdout, "[download] %d\n", i)
		}
		for i := 0; i < m; i++ {
			fmt.Fprintf(os.Stderr, "WARNING: %d\n", i)
		}
		os.Exit(0)
	case mode == "fail":
		fmt.Fprintln(os.Stderr, "ERROR: Unsupported URL")
		os.Exit(3)
	case mode == "sleep":
		fmt.Fprintln(os.Stdout, "started")
		time.Sleep(time.Minute)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", mode)
		os.Exit(2)
	}
}

type starter struct {
	calls atomic.Int32
	path  atomic.Value
	err   error
}

func (s *starter) start(ctx context.Context, path string, args []string, opts supervisor.Options) (*supervisor.Process, error) {
	s.calls.Add(1)
	s.path.Store(path)
	if s.err != nil {
		return nil, s.err
	}
	argv := append([]string{"-test.run=TestHelperProcess", "--"}, args...)
	opts.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
	return supervisor.Start(ctx, os.Args[0], argv, opts)
}

func payloads() fstest.MapFS {
	return fstest.MapFS{
		"yt-dlp":     {Data: []byte("downloader")},
		"yt-dlp.exe": {Data: []byte("downloader")},
		"ffmpeg":     {Data: []byte("muxer")},
		"ffmpeg.exe": {Data: []byte("muxer")},
	}
}

func newTestRunner(t *testing.T, src fstest.MapFS) (*Runner, *starter, string) {
	t.Helper()
	dir := t.TempDir()
	st := &starter{}
	r := NewRunner(provision.FSSource{FS: src}, dir)
	r.start = st.start
	return r, st, dir
}

func request(url string) ytdlp.Request {
	return ytdlp.Request{URL: url, Quality: ytdlp.QualityNormal, DownloadDir: "/tmp/out"}
}

func drain(t *testing.T, s *Session) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(30 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out draining events after %d", len(got))
		}
	}
}

func split(events []Event) (states []State, lines []supervisor.OutputLine) {
	for _, ev := range events {
		switch ev.Kind {
		case EventState:
			states = append(states, ev.State)
		case EventLine:
			lines = append(lines, ev.Line)
		}
	}
	return states, lines
}

func dirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestSubmit_EmptyURLRejected(t *testing.T) {
	r, st, dir := newTestRunner(t, payloads())

	for _, url := range []string{"", "   ", "\t\n"} {
		s, err := r.Submit(context.Background(), request(url))
		require.ErrorIs(t, err, ErrEmptyURL)
		require.NotNil(t, s)
		require.Equal(t, Failed, s.State())

		out := s.Wait()
		require.Equal(t, OutcomeInputRejected, out.Kind)
		require.ErrorIs(t, out.Err, ErrEmptyURL)
		require.NotEmpty(t, out.Detail)

		events := drain(t, s)
		require.Len(t, events, 1)
		require.Equal(t, Failed, events[0].State)
		require.NotNil(t, events[0].Outcome)
	}
	require.Zero(t, st.calls.Load())
	require.Zero(t, dirEntries(t, dir))
}

func TestSubmit_SuccessRelaysEveryLine(t *testing.T) {
	const n, m = 120, 40
	r, st, dir := newTestRunner(t, payloads())

	s, err := r.Submit(context.Background(), request(fmt.Sprintf("https://example.com/v/lines-%d-%d", n, m)))
	require.NoError(t, err)
	require.Equal(t, s.Tools().Downloader, st.path.Load())

	events := drain(t, s)
	states, lines := split(events)
	require.Equal(t, []State{Provisioning, Running, Succeeded}, states)
	require.Len(t, lines, n+m)

	last := events[len(events)-1]
	require.Equal(t, EventState, last.Kind)
	require.NotNil(t, last.Outcome)
	require.Equal(t, OutcomeSuccess, last.Outcome.Kind)

	var stdout []string
	for _, l := range lines {
		if l.Stream == supervisor.Stdout {
			stdout = append(stdout, l.Text)
		}
	}
	require.Len(t, stdout, n)
	for i, text := range stdout {
		require.Equal(t, fmt.Sprintf("[download] %d", i), text)
	}

	out := s.Wait()
	require.Equal(t, OutcomeSuccess, out.Kind)
	require.NoError(t, out.Err)
	require.Equal(t, Succeeded, s.State())

	// Tools are removed on success.
	require.Zero(t, dirEntries(t, dir))
}

func TestSubmit_ProcessFailureKeepsTools(t *testing.T) {
	r, _, dir := newTestRunner(t, payloads())

	s, err := r.Submit(context.Background(), request("https://example.com/fail"))
	require.NoError(t, err)

	_, lines := split(drain(t, s))
	require.Len(t, lines, 1)
	require.Equal(t, supervisor.Stderr, lines[0].Stream)

	out := s.Wait()
	require.Equal(t, OutcomeProcessFailed, out.Kind)
	require.Equal(t, 3, out.ExitCode)
	require.NotEmpty(t, out.Detail)
	var ee *supervisor.ExitError
	require.ErrorAs(t, out.Err, &ee)
	require.Equal(t, Failed, s.State())

	require.Equal(t, 2, dirEntries(t, dir))
}

func TestSubmit_CleanupAlwaysRemovesToolsOnFailure(t *testing.T) {
	r, _, dir := newTestRunner(t, payloads())
	r.Cleanup = CleanupAlways

	s, err := r.Submit(context.Background(), request("https://example.com/fail"))
	require.NoError(t, err)
	drain(t, s)
	require.Equal(t, OutcomeProcessFailed, s.Wait().Kind)
	require.Zero(t, dirEntries(t, dir))
}

func TestSubmit_CleanupNeverKeepsToolsOnSuccess(t *testing.T) {
	r, _, dir := newTestRunner(t, payloads())
	r.Cleanup = CleanupNever

	s, err := r.Submit(context.Background(), request("https://example.com/lines-1-0"))
	require.NoError(t, err)
	drain(t, s)
	require.Equal(t, OutcomeSuccess, s.Wait().Kind)
	require.Equal(t, 2, dirEntries(t, dir))
}

func TestSubmit_ProvisioningFailure(t *testing.T) {
	src := payloads()
	delete(src, "ffmpeg")
	delete(src, "ffmpeg.exe")
	r, st, dir := newTestRunner(t, src)

	s, err := r.Submit(context.Background(), request("https://example.com/lines-1-0"))
	var pe *provision.Error
	require.ErrorAs(t, err, &pe)
	require.Equal(t, Failed, s.State())

	out := s.Wait()
	require.Equal(t, OutcomeProvisioningFailed, out.Kind)
	require.NotEmpty(t, out.Detail)

	states, lines := split(drain(t, s))
	require.Equal(t, []State{Provisioning, Failed}, states)
	require.Empty(t, lines)

	require.Zero(t, st.calls.Load())
	require.Zero(t, dirEntries(t, dir))
}

func TestSubmit_CancelledWhileProvisioning(t *testing.T) {
	r, st, dir := newTestRunner(t, payloads())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := r.Submit(ctx, request("https://example.com/lines-1-0"))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, Cancelled, s.State())

	out := s.Wait()
	require.Equal(t, OutcomeCancelled, out.Kind)
	require.ErrorIs(t, out.Err, context.Canceled)
	var pe *provision.Error
	require.ErrorAs(t, out.Err, &pe)
	require.NotEmpty(t, out.Detail)

	states, _ := split(drain(t, s))
	require.Equal(t, []State{Provisioning, Cancelled}, states)
	require.Zero(t, st.calls.Load())
	require.Zero(t, dirEntries(t, dir))
}

func TestSubmit_SpawnFailureKeepsTools(t *testing.T) {
	r, st, dir := newTestRunner(t, payloads())
	st.err = &supervisor.SpawnError{Path: "yt-dlp", Err: errors.New("exec format error")}

	s, err := r.Submit(context.Background(), request("https://example.com/lines-1-0"))
	var se *supervisor.SpawnError
	require.ErrorAs(t, err, &se)

	out := s.Wait()
	require.Equal(t, OutcomeSpawnFailed, out.Kind)
	require.ErrorAs(t, out.Err, &se)

	states, _ := split(drain(t, s))
	require.Equal(t, []State{Provisioning, Failed}, states)
	require.Equal(t, 2, dirEntries(t, dir))
}

func TestSession_CancelEndsCancelled(t *testing.T) {
	r, _, _ := newTestRunner(t, payloads())
	r.Process.KillGrace = time.Second

	s, err := r.Submit(context.Background(), request("https://example.com/sleep"))
	require.NoError(t, err)

	for ev := range s.Events() {
		if ev.Kind == EventLine {
			require.Equal(t, "started", ev.Line.Text)
			break
		}
	}
	s.Cancel()

	states, _ := split(drain(t, s))
	require.Equal(t, []State{Cancelled}, states)

	out := s.Wait()
	require.Equal(t, OutcomeCancelled, out.Kind)
	require.ErrorIs(t, out.Err, context.Canceled)
	require.Equal(t, Cancelled, s.State())
}

func TestSubmit_ContextCancelStopsSession(t *testing.T) {
	r, _, _ := newTestRunner(t, payloads())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := r.Submit(ctx, request("https://example.com/sleep"))
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	drain(t, s)
	require.Equal(t, OutcomeCancelled, s.Wait().Kind)
}

func TestSubmit_RelayPacingKeepsOrder(t *testing.T) {
	r, _, _ := newTestRunner(t, payloads())
	r.RelayInterval = 20 * time.Millisecond

	s, err := r.Submit(context.Background(), request("https://example.com/lines-6-0"))
	require.NoError(t, err)

	var stamps []time.Time
	var texts []string
	for _, ev := range drain(t, s) {
		if ev.Kind == EventLine {
			stamps = append(stamps, ev.At)
			texts = append(texts, ev.Line.Text)
		}
	}
	require.Len(t, texts, 6)
	for i, text := range texts {
		require.Equal(t, fmt.Sprintf("[download] %d", i), text)
	}
	require.GreaterOrEqual(t, stamps[5].Sub(stamps[0]), 80*time.Millisecond)
}

func TestSubmit_ConcurrentSessionsAreIndependent(t *testing.T) {
	r, _, dir := newTestRunner(t, payloads())

	a, err := r.Submit(context.Background(), request("https://example.com/lines-3-0"))
	require.NoError(t, err)
	b, err := r.Submit(context.Background(), request("https://example.com/lines-0-2"))
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)
	require.NotEqual(t, a.Tools().Downloader, b.Tools().Downloader)

	_, la := split(drain(t, a))
	_, lb := split(drain(t, b))
	require.Len(t, la, 3)
	require.Len(t, lb, 2)
	require.Equal(t, OutcomeSuccess, a.Wait().Kind)
	require.Equal(t, OutcomeSuccess, b.Wait().Kind)
	require.Zero(t, dirEntries(t, dir))
}

func TestParseCleanupPolicy(t *testing.T) {
	for in, want := range map[string]CleanupPolicy{
		"":           CleanupOnSuccess,
		"on-success": CleanupOnSuccess,
		"Always":     CleanupAlways,
		"never":      CleanupNever,
	} {
		got, err := ParseCleanupPolicy(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseCleanupPolicy("sometimes")
	require.Error(t, err)
}

func TestStrings(t *testing.T) {
	require.Equal(t, "provisioning", Provisioning.String())
	require.True(t, Cancelled.Terminal())
	require.False(t, Running.Terminal())
	require.Equal(t, "spawn_failed", OutcomeSpawnFailed.String())
	require.Equal(t, "line", EventLine.String())
	require.Equal(t, "on-success", CleanupOnSuccess.String())
}
