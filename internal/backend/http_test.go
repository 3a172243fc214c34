package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"concourse/internal/protocol"
)

func TestFetchHistoryDecodesMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/threads/thr_1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("auth header = %q", got)
		}
		fmt.Fprint(w, `{"messages":[{"id":"m1","role":"human","parts":[{"kind":"text","text":"hi"}]}]}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret")
	msgs, err := c.FetchHistory(context.Background(), "thr_1")
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text() != "hi" || msgs[0].Role != protocol.Human {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestFetchHistoryNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	if _, err := c.FetchHistory(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStartRunStreamsEventsInOrder(t *testing.T) {
	msg := protocol.NewAgent("moderator", "partial")
	lines := []protocol.RunEvent{
		protocol.ThreadCreatedEvent{ThreadID: "thr_new"},
		protocol.MessageEvent{Message: msg},
		protocol.DeltaEvent{MessageID: msg.ID, Node: "moderator", Text: " more"},
		protocol.DoneEvent{},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/runs" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		flusher := w.(http.Flusher)
		for _, ev := range lines {
			data, err := protocol.EncodeRunEvent(ev)
			if err != nil {
				t.Errorf("encode: %v", err)
			}
			w.Write(data)
			w.Write([]byte("\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	stream, err := c.StartRun(context.Background(), RunRequest{Text: "hello"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	defer stream.Close()

	var got []protocol.RunEvent
	for ev := range stream.Events() {
		got = append(got, ev)
	}
	if len(got) != len(lines) {
		t.Fatalf("received %d events, want %d", len(got), len(lines))
	}
	if _, ok := got[0].(protocol.ThreadCreatedEvent); !ok {
		t.Errorf("first event = %T", got[0])
	}
	if _, ok := got[3].(protocol.DoneEvent); !ok {
		t.Errorf("last event = %T", got[3])
	}
}

func TestStartRunMalformedLineYieldsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"nonsense"}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	stream, err := c.StartRun(context.Background(), RunRequest{Text: "hello"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	defer stream.Close()

	var last protocol.RunEvent
	for ev := range stream.Events() {
		last = ev
	}
	if _, ok := last.(protocol.FailedEvent); !ok {
		t.Fatalf("last event = %T, want FailedEvent", last)
	}
}

func TestStartRunContextCancelClosesStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"thread_created","thread_id":"thr_x"}`)
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewHTTPClient(srv.URL, "")
	stream, err := c.StartRun(ctx, RunRequest{Text: "hello"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	<-stream.Events() // thread_created
	cancel()

	select {
	case _, ok := <-stream.Events():
		if ok {
			// A failure event may race the close; drain until closed.
			for range stream.Events() {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
}

func TestSubmitConstitution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"accepted","message":"queued for review"}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	res, err := c.SubmitConstitution(context.Background(), "be kind", "public")
	if err != nil {
		t.Fatalf("SubmitConstitution: %v", err)
	}
	if res.Status != "accepted" || res.Message != "queued for review" {
		t.Fatalf("result = %+v", res)
	}
}

func TestSetTargetRedirectsRequests(t *testing.T) {
	hit := func(name string, tokens *[]string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*tokens = append(*tokens, name+":"+r.Header.Get("Authorization"))
			fmt.Fprint(w, `{"messages":[]}`)
		}))
	}
	var seen []string
	first := hit("first", &seen)
	defer first.Close()
	second := hit("second", &seen)
	defer second.Close()

	c := NewHTTPClient(first.URL, "old-token")
	if _, err := c.FetchHistory(context.Background(), "thr_1"); err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}

	c.SetTarget(second.URL, "new-token")
	if _, err := c.FetchHistory(context.Background(), "thr_1"); err != nil {
		t.Fatalf("FetchHistory after retarget: %v", err)
	}

	want := []string{"first:Bearer old-token", "second:Bearer new-token"}
	if len(seen) != 2 || seen[0] != want[0] || seen[1] != want[1] {
		t.Fatalf("requests = %v, want %v", seen, want)
	}
}
