package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// node starts a WebSocket server that runs serve for every accepted conn.
func node(t *testing.T, serve func(ctx context.Context, conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		serve(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// drain reads until the peer goes away, passing each frame to fn.
func drain(fn func([]byte)) func(context.Context, *websocket.Conn) {
	return func(ctx context.Context, conn *websocket.Conn) {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if fn != nil {
				fn(data)
			}
		}
	}
}

func connect(t *testing.T, url string, tweak func(*Config), setup func(*Client)) *Client {
	t.Helper()
	cfg := DefaultConfig(url, "test")
	cfg.PingInterval = 0
	cfg.InitialBackoff = 10 * time.Millisecond
	if tweak != nil {
		tweak(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if setup != nil {
		setup(c)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestClient_ConnectRefused(t *testing.T) {
	c, err := New(DefaultConfig("ws://127.0.0.1:1", "test"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err == nil {
		t.Fatal("Connect succeeded against a closed port")
	}
	if c.State() != StateDisconnected {
		t.Errorf("state = %s", c.State())
	}
}

func TestClient_SubscribeRoundTrip(t *testing.T) {
	// The node answers an eth_subscribe request with a subscription id and
	// then pushes one notification.
	url := node(t, func(ctx context.Context, conn *websocket.Conn) {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req struct {
			ID     int      `json:"id"`
			Method string   `json:"method"`
			Params []string `json:"params"`
		}
		if json.Unmarshal(data, &req) != nil || req.Method != "eth_subscribe" || req.Params[0] != "newPendingTransactions" {
			_ = conn.Close(websocket.StatusPolicyViolation, "bad request")
			return
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"jsonrpc":"2.0","id":1,"result":"0xsub"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xsub","result":"0xabc"}}`))
		drain(nil)(ctx, conn)
	})

	var (
		mu   sync.Mutex
		msgs []string
	)
	c := connect(t, url, nil, func(c *Client) {
		c.OnMessage(func(_ context.Context, msg []byte) {
			mu.Lock()
			msgs = append(msgs, string(msg))
			mu.Unlock()
		})
	})
	if !c.IsConnected() {
		t.Fatalf("state = %s", c.State())
	}

	err := c.SendJSON(context.Background(), map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "eth_subscribe", "params": []string{"newPendingTransactions"},
	})
	if err != nil {
		t.Fatalf("SendJSON: %v", err)
	}

	eventually(t, "two frames", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(msgs) == 2
	})
	if !strings.Contains(msgs[1], "0xabc") {
		t.Errorf("notification = %s", msgs[1])
	}
}

func TestClient_ConcurrentSends(t *testing.T) {
	var got atomic.Int32
	c := connect(t, node(t, drain(func([]byte) { got.Add(1) })), nil, nil)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Go(func() {
			for i := range 5 {
				if err := c.SendJSON(context.Background(), map[string]int{"g": g, "i": i}); err != nil {
					t.Errorf("SendJSON: %v", err)
				}
			}
		})
	}
	wg.Wait()

	eventually(t, "40 frames", func() bool { return got.Load() == 40 })
}

func TestClient_StateTransitions(t *testing.T) {
	var (
		mu     sync.Mutex
		states []State
	)
	c := connect(t, node(t, drain(nil)), nil, func(c *Client) {
		c.OnStateChange(func(s State, _ error) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		})
	})

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := c.Send(context.Background(), []byte("x")); err == nil {
		t.Error("Send after Close succeeded")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConnected, StateClosed}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states = %v, want %v", states, want)
			break
		}
	}
}

func TestClient_OversizedFrameDropsConnection(t *testing.T) {
	url := node(t, func(ctx context.Context, conn *websocket.Conn) {
		_ = conn.Write(ctx, websocket.MessageText, []byte(strings.Repeat("A", 4096)))
		drain(nil)(ctx, conn)
	})
	c := connect(t, url, func(cfg *Config) {
		cfg.MaxMessageSize = 100
		cfg.InitialBackoff = time.Minute
	}, nil)

	eventually(t, "disconnect", func() bool { return c.State() != StateConnected })
}

func TestClient_ResubscribesAfterReconnect(t *testing.T) {
	var conns atomic.Int32
	url := node(t, func(ctx context.Context, conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			return // drop the first session
		}
		drain(nil)(ctx, conn)
	})

	var hooks atomic.Int32
	connect(t, url, nil, func(c *Client) {
		c.OnConnect(func(context.Context) error {
			hooks.Add(1)
			return nil
		})
	})

	eventually(t, "second OnConnect", func() bool { return hooks.Load() >= 2 })
}

func TestClient_GivesUpAfterMaxReconnects(t *testing.T) {
	var (
		conns  atomic.Int32
		gaveUp = make(chan struct{})
		once   sync.Once
	)
	// The first session drops at once and the node then refuses upgrades.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conns.Add(1) > 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if conn, err := websocket.Accept(w, r, nil); err == nil {
			conn.CloseNow()
		}
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	connect(t, url, func(cfg *Config) { cfg.MaxReconnects = 2 }, func(c *Client) {
		c.OnStateChange(func(s State, err error) {
			if s == StateDisconnected && errors.Is(err, ErrMaxReconnects) {
				once.Do(func() { close(gaveUp) })
			}
		})
	})

	select {
	case <-gaveUp:
	case <-time.After(3 * time.Second):
		t.Fatalf("no give-up after %d dials", conns.Load())
	}
}
