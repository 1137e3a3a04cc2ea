package ws

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evcal/internal/calsync"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/protocol"
)

func init() {
	appLog.SetOutput(io.Discard)
}

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// authority is a scripted websocket peer. Frames it receives are sent on
// received; reply builds the answer to a request.
type authority struct {
	t        *testing.T
	token    string
	received chan protocol.Envelope
	reply    func(req protocol.Envelope) protocol.Envelope
	onOpen   []protocol.Envelope
}

func (a *authority) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.token != "" && r.Header.Get("Authorization") != "Bearer "+a.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		a.t.Errorf("accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "closing connection")

	ctx := r.Context()
	for _, env := range a.onOpen {
		if err := wsjson.Write(ctx, conn, env); err != nil {
			return
		}
	}
	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return
		}
		a.received <- env
		if env.Ref != "" && a.reply != nil {
			if err := wsjson.Write(ctx, conn, a.reply(env)); err != nil {
				return
			}
		}
	}
}

func serve(t *testing.T, a *authority) string {
	t.Helper()
	a.t = t
	if a.received == nil {
		a.received = make(chan protocol.Envelope, 16)
	}
	srv := httptest.NewServer(a)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func connect(t *testing.T, url, token string, h Handler) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c, err := Dial(ctx, url, token)
	require.NoError(t, err)

	if h == nil {
		h = func(context.Context, protocol.Envelope) error { return nil }
	}
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx, h) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
		_ = c.Close()
	})
	return c
}

func request() calsync.FetchRequest {
	return calsync.FetchRequest{
		Generation: 1,
		Window:     model.Window{Start: start, End: start.AddDate(0, 1, 0)},
		Filter:     "work",
	}
}

func TestClient_FetchEvents(t *testing.T) {
	events := []model.WireEvent{{
		ID:        "a",
		Title:     "standup",
		StartTime: model.WireTimeOf(start.Add(9 * time.Hour)),
		EndTime:   model.WireTimeOf(start.Add(10 * time.Hour)),
	}}
	a := &authority{
		token: "secret",
		reply: func(req protocol.Envelope) protocol.Envelope {
			env, err := protocol.NewEnvelope(protocol.TypeReply, req.Ref, protocol.EventsPayload{Events: events})
			require.NoError(t, err)
			return env
		},
	}
	c := connect(t, serve(t, a), "secret", nil)

	got, err := c.FetchEvents(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "standup", got[0].Title)

	sent := <-a.received
	assert.Equal(t, protocol.TypeFetchEvents, sent.Type)
	assert.NotEmpty(t, sent.Ref)
	var p protocol.FetchEventsRequest
	require.NoError(t, sent.Decode(&p))
	require.NotNil(t, p.Filter)
	assert.Equal(t, "work", *p.Filter)
	assert.True(t, p.Start.Time.Equal(start))
}

func TestClient_FetchEventsRemoteError(t *testing.T) {
	a := &authority{
		reply: func(req protocol.Envelope) protocol.Envelope {
			return protocol.Envelope{Type: protocol.TypeReply, Ref: req.Ref, Error: "database unavailable"}
		},
	}
	c := connect(t, serve(t, a), "", nil)

	_, err := c.FetchEvents(context.Background(), request())
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "database unavailable", remote.Message)
}

func TestClient_PushesReachHandler(t *testing.T) {
	deleted, err := protocol.NewEnvelope(protocol.TypeEventDeleted, "", protocol.DeletedPayload{ID: "a"})
	require.NoError(t, err)
	stray := protocol.Envelope{Type: protocol.TypeReply, Ref: "nobody-waits"}

	got := make(chan protocol.Envelope, 4)
	a := &authority{onOpen: []protocol.Envelope{stray, deleted}}
	c := connect(t, serve(t, a), "", func(_ context.Context, env protocol.Envelope) error {
		got <- env
		return nil
	})

	select {
	case env := <-got:
		assert.Equal(t, protocol.TypeEventDeleted, env.Type)
		var p protocol.DeletedPayload
		require.NoError(t, env.Decode(&p))
		assert.Equal(t, "a", p.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("push not delivered")
	}

	require.NoError(t, c.Push(context.Background(), protocol.TypeCalendarNavigated, protocol.CalendarNavigated{Title: "January 2024"}))
	sent := <-a.received
	assert.Equal(t, protocol.TypeCalendarNavigated, sent.Type)
	assert.Empty(t, sent.Ref)
}

func TestClient_ClosedConnectionFailsRequests(t *testing.T) {
	a := &authority{}
	c := connect(t, serve(t, a), "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		<-a.received
		_ = c.Close()
	}()

	_, err := c.FetchEvents(ctx, request())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDial_Unauthorized(t *testing.T) {
	url := serve(t, &authority{token: "secret"})
	_, err := Dial(context.Background(), url, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
