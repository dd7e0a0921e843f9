package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *recordingAlerter) Alert(ctx context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, text)
	return nil
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

// newNode starts a TLS test node and returns a client pointed at it plus the node address
func newNode(t *testing.T, handler http.HandlerFunc, timeout time.Duration) (*NodeClient, string, *recordingAlerter) {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "https://"))
	if err != nil {
		t.Fatalf("split host: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	alerter := &recordingAlerter{}
	c := NewNodeClient(NodeClientConfig{Port: port, Secret: "s3cret", Timeout: timeout}, alerter, nil)
	return c, host, alerter
}

func TestNodeClientSendsProtocolHeaders(t *testing.T) {
	var gotPath, gotToken, gotUser, gotType string
	var gotBody NodeRequest
	c, host, alerter := newNode(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("Token")
		gotUser = r.Header.Get("UserId")
		gotType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(NodeResponse{Message: "User added successfully"})
	}, time.Second)

	if err := c.Add(context.Background(), host, 42, "cred-1"); err != nil {
		t.Fatalf("add: %v", err)
	}

	if gotPath != "/add" {
		t.Errorf("expected /add, got %s", gotPath)
	}
	if gotToken != "s3cret" || gotUser != "42" || gotType != "application/json" {
		t.Errorf("unexpected headers token=%q user=%q type=%q", gotToken, gotUser, gotType)
	}
	if gotBody.UUID != "cred-1" {
		t.Errorf("unexpected body %+v", gotBody)
	}
	if alerter.count() != 0 {
		t.Errorf("no alert expected on success")
	}
}

func TestNodeClientCredentialsReturnsURI(t *testing.T) {
	c, host, _ := newNode(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(NodeResponse{Message: "vless://cred-1@node:443?type=tcp"})
	}, time.Second)

	uri, err := c.Credentials(context.Background(), host, 1, "cred-1")
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if uri != "vless://cred-1@node:443?type=tcp" {
		t.Errorf("unexpected uri %q", uri)
	}
}

func TestNodeClientFailuresAreUnreachable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"forbidden", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(NodeResponse{Message: "Authorization failed"})
		}},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "<html>bad gateway</html>", http.StatusBadGateway)
		}},
		{"garbage body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, host, alerter := newNode(t, tt.handler, time.Second)
			err := c.Delete(context.Background(), host, 1, "cred-1")
			if !errors.Is(err, ErrNodeUnreachable) {
				t.Fatalf("expected ErrNodeUnreachable, got %v", err)
			}
			if alerter.count() != 1 {
				t.Fatalf("expected one alert, got %d", alerter.count())
			}
			if strings.ContainsAny(alerter.alerts[0], "<>") {
				t.Errorf("alert must be stripped of angle brackets: %q", alerter.alerts[0])
			}
			if !strings.Contains(alerter.alerts[0], "/delete") {
				t.Errorf("alert must name the method: %q", alerter.alerts[0])
			}
		})
	}
}

func TestNodeClientQuietSuppressesAlert(t *testing.T) {
	c, host, alerter := newNode(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, time.Second)

	_, err := c.Quiet().Credentials(context.Background(), host, 1, "cred-1")
	if !errors.Is(err, ErrNodeUnreachable) {
		t.Fatalf("expected ErrNodeUnreachable, got %v", err)
	}
	if alerter.count() != 0 {
		t.Errorf("quiet client must not alert, got %d", alerter.count())
	}

	// the loud client still alerts
	_ = c.Add(context.Background(), host, 1, "cred-1")
	if alerter.count() != 1 {
		t.Errorf("expected loud client to alert")
	}
}

func TestNodeClientTimeout(t *testing.T) {
	release := make(chan struct{})
	c, host, _ := newNode(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 100*time.Millisecond)
	defer close(release)

	start := time.Now()
	err := c.Add(context.Background(), host, 1, "cred-1")
	if !errors.Is(err, ErrNodeUnreachable) {
		t.Fatalf("expected ErrNodeUnreachable, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("call was not bounded by the timeout")
	}
}

func TestNodeClientContextCancel(t *testing.T) {
	c, host, _ := newNode(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Add(ctx, host, 1, "cred-1"); !errors.Is(err, ErrNodeUnreachable) {
		t.Fatalf("expected ErrNodeUnreachable, got %v", err)
	}
}

func TestNodeClientUnreachableHost(t *testing.T) {
	alerter := &recordingAlerter{}
	c := NewNodeClient(NodeClientConfig{Port: 1, Secret: "s", Timeout: time.Second}, alerter, nil)
	if err := c.Add(context.Background(), "127.0.0.1", 1, "x"); !errors.Is(err, ErrNodeUnreachable) {
		t.Fatalf("expected ErrNodeUnreachable, got %v", err)
	}
	if alerter.count() != 1 {
		t.Errorf("expected alert for refused connection")
	}
}
