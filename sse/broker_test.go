package sse

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestBrokerDeliversTopicEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := NewBroker()
	go broker.Listen(ctx)

	r := gin.New()
	r.GET("/stream/:id", broker.Handler("id"))
	srv := httptest.NewServer(r)
	defer srv.Close()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()
	req, _ := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/stream/poll-1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	// the subscription registers asynchronously, so keep publishing until
	// something arrives
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				broker.Publish("poll-2", "other")
				broker.Publish("poll-1", "results")
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			if got := strings.TrimSpace(strings.TrimPrefix(line, "event:")); got != "poll-1" {
				t.Fatalf("received event for wrong topic %q", got)
			}
			return
		}
	}
	t.Fatalf("stream ended without an event: %v", scanner.Err())
}

func TestPublishDoesNotBlockWithoutListener(t *testing.T) {
	broker := NewBroker()
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(broker.Notifier)+1; i++ {
			broker.Publish("poll-1", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked past its patience window")
	}
}

func TestStreamsEndWhenBrokerStops(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	broker := NewBroker()
	go broker.Listen(ctx)

	r := gin.New()
	r.GET("/stream/:id", broker.Handler("id"))
	srv := httptest.NewServer(r)
	defer srv.Close()

	finished := make(chan error, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/stream/poll-1")
		if err != nil {
			finished <- err
			return
		}
		defer resp.Body.Close()
		_, err = io.ReadAll(resp.Body)
		finished <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-finished:
		if err != nil {
			t.Fatalf("stream request failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream stayed open after the broker stopped")
	}
}

func TestQuietStreamOpensImmediately(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := NewBroker()
	go broker.Listen(ctx)

	r := gin.New()
	r.GET("/stream/:id", broker.Handler("id"))
	srv := httptest.NewServer(r)
	defer srv.Close()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()
	req, _ := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/stream/poll-1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream did not open without events: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Errorf("expected an event stream, got %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-cache" {
		t.Errorf("expected Cache-Control no-cache, got %q", got)
	}
}
