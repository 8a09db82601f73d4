package handler

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, resp *http.Response) <-chan sseEvent {
	t.Helper()
	out := make(chan sseEvent, 16)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		var ev sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			case line == "":
				out <- ev
				ev = sseEvent{}
			}
		}
	}()
	return out
}

func nextEvent(t *testing.T, events <-chan sseEvent, skip ...string) sseEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream ended")
			skipped := false
			for _, s := range skip {
				if ev.name == s {
					skipped = true
				}
			}
			if !skipped {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for stream event")
		}
	}
}

func TestStream(t *testing.T) {
	env := newTestEnv(t)
	streams := NewStreamHandler(env.handler, WithStreamHeartbeat(20*time.Millisecond), WithStreamBuffer(8))
	env.engine.GET("/api/v1/sessions/:id/stream", asViewer(salesViewer), streams.Stream)

	srv := httptest.NewServer(env.engine)
	defer srv.Close()

	s := env.open(t, "U1", "all")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/sessions/"+s.ID+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set("X-Test-User", "U1")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	events := readEvents(t, resp)

	connected := nextEvent(t, events)
	assert.Equal(t, EventConnected, connected.name)
	assert.Contains(t, connected.data, s.ID)

	assert.Equal(t, EventHeartbeat, nextEvent(t, events).name)
	assert.Eventually(t, func() bool { return streams.ActiveStreams() == 1 }, time.Second, 5*time.Millisecond)

	w := env.do(http.MethodPut, "/api/v1/sessions/"+s.ID+"/criteria", "U1", `{"billing":"Pending"}`)
	require.Equal(t, http.StatusOK, w.Code)
	change := nextEvent(t, events, EventHeartbeat)
	assert.Equal(t, EventChange, change.name)
	assert.Contains(t, change.data, `"kind":"criteria"`)

	require.NoError(t, env.manager.Close(s.ID))
	assert.Equal(t, EventClosed, nextEvent(t, events, EventHeartbeat, EventNotification).name)
	assert.Eventually(t, func() bool { return streams.ActiveStreams() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStream_UnknownSession(t *testing.T) {
	env := newTestEnv(t)
	streams := NewStreamHandler(env.handler)
	env.engine.GET("/api/v1/sessions/:id/stream", asViewer(salesViewer), streams.Stream)

	w := env.do(http.MethodGet, "/api/v1/sessions/missing/stream", "U1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 0, streams.ActiveStreams())
}

func TestWriteEvent(t *testing.T) {
	var buf bytes.Buffer
	writeEvent(&buf, SSEMessage{Event: EventChange, ID: "7", Data: `{"a":1}`})
	assert.Equal(t, "event: change\nid: 7\ndata: {\"a\":1}\n\n", buf.String())

	buf.Reset()
	writeEvent(&buf, SSEMessage{Data: "x"})
	assert.Equal(t, "data: x\n\n", buf.String())
}
