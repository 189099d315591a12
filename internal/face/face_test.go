package face

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hibiki-voice/hibiki/pkg/provider/tts"
)

func TestHTTPSink_PostsMouthPattern(t *testing.T) {
	t.Parallel()

	type post struct {
		pattern *string
	}
	var (
		mu    sync.Mutex
		posts []post
		got   = make(chan struct{}, 16)
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mouth_pattern" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req struct {
			MouthPattern *string `json:"mouth_pattern"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad body %q: %v", body, err)
		}
		mu.Lock()
		posts = append(posts, post{pattern: req.MouthPattern})
		mu.Unlock()
		got <- struct{}{}
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	if err := sink.SetMouth(context.Background(), tts.MouthA); err != nil {
		t.Fatal(err)
	}
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no post received")
	}

	mu.Lock()
	first := posts[0]
	mu.Unlock()
	if first.pattern == nil || *first.pattern != "mouth_a" {
		t.Errorf("first post pattern = %v, want mouth_a", first.pattern)
	}

	// Closed is encoded as JSON null.
	if err := sink.SetMouth(context.Background(), tts.MouthClosed); err != nil {
		t.Fatal(err)
	}
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no second post received")
	}
	mu.Lock()
	second := posts[1]
	mu.Unlock()
	if second.pattern != nil {
		t.Errorf("closed post pattern = %q, want null", *second.pattern)
	}

	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sink.SetMouth(context.Background(), tts.MouthI); err == nil {
		t.Error("SetMouth after Close did not fail")
	}
}

func TestHTTPSink_SlowServerDoesNotBlockSetMouth(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	sink, err := NewHTTPSink(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	// With the delivery goroutine stuck, posts must still return instantly.
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := sink.SetMouth(context.Background(), tts.MouthA); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("SetMouth blocked for %v", elapsed)
	}
}

func TestMailbox_KeepsLatest(t *testing.T) {
	t.Parallel()

	box := newMailbox()
	box.post(tts.MouthA)
	box.post(tts.MouthI)
	box.post(tts.MouthO)

	select {
	case shape := <-box.ch:
		if shape != tts.MouthO {
			t.Errorf("delivered %v, want MouthO", shape)
		}
	default:
		t.Fatal("mailbox empty")
	}
}

func TestNull_AcceptsEverything(t *testing.T) {
	t.Parallel()

	var sink Null
	if err := sink.SetMouth(context.Background(), tts.MouthA); err != nil {
		t.Fatal(err)
	}
}
