package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/require"

	feewardtesting "github.com/feeward/feeward/utils/pkg/testing"
)

type captureTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (t *captureTransport) Configure(sentry.ClientOptions)        {}
func (t *captureTransport) Flush(time.Duration) bool              { return true }
func (t *captureTransport) FlushWithContext(context.Context) bool { return true }
func (t *captureTransport) Close()                                {}
func (t *captureTransport) SendEvent(event *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *captureTransport) captured() []*sentry.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*sentry.Event(nil), t.events...)
}

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestFeeward_Notify_EventText(t *testing.T) {
	t.Parallel()

	e := Event{
		Severity: SeverityError,
		Title:    "cycle panicked",
		Message:  "stage swap",
		Err:      errors.New("boom"),
		Fields:   map[string]string{"b": "2", "a": "1"},
	}
	require.Equal(t, "[ERROR] cycle panicked\nstage swap\nerror: boom\na: 1\nb: 2", e.Text())
}

func TestFeeward_Notify_Multi(t *testing.T) {
	t.Parallel()

	first := &recordingNotifier{err: errors.New("first failed")}
	second := &recordingNotifier{}
	err := Multi{first, nil, second}.Notify(context.Background(), Event{Title: "x"})
	require.ErrorContains(t, err, "first failed")
	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	require.NoError(t, Nop{}.Notify(context.Background(), Event{}))
}

func TestFeeward_Notify_Slack(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		texts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat.postMessage", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "C123", r.FormValue("channel"))
		mu.Lock()
		texts = append(texts, r.FormValue("text"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	t.Cleanup(srv.Close)

	n, err := NewSlack(SlackConfig{
		Logger:  feewardtesting.NewLogger(),
		Token:   "xoxb-test",
		Channel: "C123",
		APIURL:  srv.URL + "/api/",
	})
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), Event{Severity: SeverityInfo, Title: "quiet"}))
	require.NoError(t, n.Notify(context.Background(), Event{Severity: SeverityError, Title: "withdraw failed", Err: errors.New("rpc down")}))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"[ERROR] withdraw failed\nerror: rpc down"}, texts)
}

func TestFeeward_Notify_SlackError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	t.Cleanup(srv.Close)

	n, err := NewSlack(SlackConfig{Logger: feewardtesting.NewLogger(), Token: "t", Channel: "C1", APIURL: srv.URL + "/"})
	require.NoError(t, err)
	require.ErrorContains(t, n.Notify(context.Background(), Event{Severity: SeverityError, Title: "x"}), "channel_not_found")
}

func TestFeeward_Notify_Sentry(t *testing.T) {
	t.Parallel()

	transport := &captureTransport{}
	n, err := NewSentry(SentryConfig{
		Logger:    feewardtesting.NewLogger(),
		DSN:       "https://public@sentry.example.com/1",
		Transport: transport,
	})
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), Event{Severity: SeverityInfo, Title: "ignored"}))
	require.NoError(t, n.Notify(context.Background(), Event{
		Severity: SeverityError,
		Title:    "distribute failed",
		Err:      errors.New("ledger unavailable"),
		Fields:   map[string]string{"stage": "distribute"},
	}))
	require.NoError(t, n.Notify(context.Background(), Event{Severity: SeverityWarning, Title: "quote rejected"}))
	require.True(t, n.Flush(time.Second))

	events := transport.captured()
	require.Len(t, events, 2)
	require.Equal(t, sentry.LevelError, events[0].Level)
	require.Equal(t, "distribute failed", events[0].Tags["title"])
	require.NotEmpty(t, events[0].Exception)
	require.Equal(t, sentry.LevelWarning, events[1].Level)
	require.Contains(t, events[1].Message, "quote rejected")
}

func TestFeeward_Notify_ConfigValidate(t *testing.T) {
	t.Parallel()

	_, err := NewSlack(SlackConfig{Logger: feewardtesting.NewLogger(), Token: "t"})
	require.Error(t, err)
	_, err = NewSentry(SentryConfig{Logger: feewardtesting.NewLogger()})
	require.Error(t, err)
}
