package nodeagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
)

// xray config with comments and a trailing comma, as found on real nodes
const testXrayConfig = `{
    // managed by the node agent
    "log": {"loglevel": "warning"},
    "inbounds": [
        {
            "port": 443,
            "protocol": "vless",
            "settings": {
                "clients": [
                    {"uuid": "manual-1", "flow": "xtls-rprx-vision"},
                ],
                "decryption": "none"
            },
            "streamSettings": {
                "network": "tcp",
                "security": "reality",
                "realitySettings": {
                    "dest": "www.microsoft.com:443",
                    "shortIds": ["6ba85179e30d4fc2", ""]
                }
            }
        }
    ],
    "outbounds": [{"protocol": "freedom"}]
}`

const controlIP = "192.0.2.1" // httptest.NewRequest's RemoteAddr

type fakeApplier struct {
	calls atomic.Int32
	err   error
}

func (a *fakeApplier) Apply(ctx context.Context) error {
	a.calls.Add(1)
	return a.err
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *fakeApplier, string) {
	t.Helper()
	dir := t.TempDir()
	xrayPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(xrayPath, []byte(testXrayConfig), 0o644); err != nil {
		t.Fatalf("write xray config: %v", err)
	}
	cfg := defaultConfig()
	cfg.SharedSecret = "bot-token"
	cfg.ControlAddress = controlIP
	cfg.XrayConfigPath = xrayPath
	cfg.ServerInfoPath = filepath.Join(dir, "serverinfo.json")
	cfg.PublicHost = "node.example.net"
	cfg.PublicKey = "pbk-value"

	applier := &fakeApplier{}
	return NewServer(&cfg, applier), applier, xrayPath
}

func call(router http.Handler, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Token", token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func message(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return resp.Message
}

func TestAuthorizationFailureHasNoSideEffect(t *testing.T) {
	srv, applier, xrayPath := newTestServer(t)
	router := srv.Router()
	before, _ := os.ReadFile(xrayPath)

	tests := []struct {
		name   string
		token  string
		remote string
	}{
		{"wrong token", "nope", controlIP},
		{"empty token", "", controlIP},
		{"wrong address", "bot-token", "198.51.100.7:5000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, path := range []string{"/add", "/credentials", "/delete"} {
				req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"uuid":"x"}`))
				req.Header.Set("Token", tt.token)
				if tt.remote != controlIP {
					req.RemoteAddr = tt.remote
				}
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)

				if rec.Code != http.StatusForbidden {
					t.Fatalf("%s: expected 403, got %d", path, rec.Code)
				}
				if got := message(t, rec); got != "Authorization failed" {
					t.Errorf("%s: unexpected message %q", path, got)
				}
			}
		})
	}

	after, _ := os.ReadFile(xrayPath)
	if !bytes.Equal(before, after) {
		t.Error("config changed on rejected calls")
	}
	if applier.calls.Load() != 0 {
		t.Errorf("applier ran %d times on rejected calls", applier.calls.Load())
	}
}

func TestMissingUUID(t *testing.T) {
	srv, applier, _ := newTestServer(t)
	router := srv.Router()

	for _, body := range []string{`{}`, `{"uuid": ""}`, `not json`} {
		rec := call(router, "/add", "bot-token", body)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("body %q: expected 403, got %d", body, rec.Code)
		}
		if got := message(t, rec); got != "No uuid specified" {
			t.Errorf("unexpected message %q", got)
		}
	}
	if applier.calls.Load() != 0 {
		t.Error("applier must not run without a uuid")
	}
}

func TestAddAppendsIDEntry(t *testing.T) {
	srv, applier, _ := newTestServer(t)

	rec := call(srv.Router(), "/add", "bot-token", `{"uuid":"cred-1"}`)
	if rec.Code != http.StatusOK || message(t, rec) != "User added successfully" {
		t.Fatalf("unexpected answer %d %s", rec.Code, rec.Body.String())
	}
	if applier.calls.Load() != 1 {
		t.Errorf("expected one apply, got %d", applier.calls.Load())
	}

	clients, err := srv.Clients()
	if err != nil {
		t.Fatalf("list clients: %v", err)
	}
	if len(clients) != 2 {
		t.Fatalf("expected 2 clients, got %+v", clients)
	}
	added := clients[1]
	if added.ID != "cred-1" || added.UUID != "" || added.Email != controlIP+"@example.com" {
		t.Errorf("unexpected entry %+v", added)
	}
}

func TestAddKeepsUnknownFields(t *testing.T) {
	srv, _, xrayPath := newTestServer(t)
	call(srv.Router(), "/add", "bot-token", `{"uuid":"cred-1"}`)

	data, _ := os.ReadFile(xrayPath)
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("rewritten config is not plain json: %v", err)
	}
	if _, ok := doc["outbounds"]; !ok {
		t.Error("outbounds dropped on rewrite")
	}
	if !strings.Contains(string(data), `"decryption": "none"`) {
		t.Error("inbound settings dropped on rewrite")
	}
}

func TestDeleteMatchesUUIDFieldOnly(t *testing.T) {
	srv, applier, _ := newTestServer(t)
	router := srv.Router()

	call(router, "/add", "bot-token", `{"uuid":"cred-1"}`)

	// entry written by /add carries "id", so /delete leaves it in place
	rec := call(router, "/delete", "bot-token", `{"uuid":"cred-1"}`)
	if rec.Code != http.StatusOK || message(t, rec) != "User deleted successfully" {
		t.Fatalf("unexpected answer %d %s", rec.Code, rec.Body.String())
	}
	clients, _ := srv.Clients()
	if len(clients) != 2 {
		t.Fatalf("id-keyed entry must survive delete, got %+v", clients)
	}

	// entry carrying "uuid" is removed
	rec = call(router, "/delete", "bot-token", `{"uuid":"manual-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	clients, _ = srv.Clients()
	if len(clients) != 1 || clients[0].ID != "cred-1" {
		t.Fatalf("expected only cred-1 left, got %+v", clients)
	}
	if applier.calls.Load() != 3 {
		t.Errorf("expected 3 applies, got %d", applier.calls.Load())
	}
}

func TestCredentialsBuildsVlessURI(t *testing.T) {
	srv, applier, _ := newTestServer(t)

	rec := call(srv.Router(), "/credentials", "bot-token", `{"uuid":"cred-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	uri := message(t, rec)
	for _, want := range []string{
		"vless://cred-1@node.example.net:443?",
		"security=reality",
		"sni=www.microsoft.com",
		"alpn=h2",
		"pbk=pbk-value",
		"sid=6ba85179e30d4fc2",
		"flow=xtls-rprx-vision",
		"#VLESS%20VPN",
	} {
		if !strings.Contains(uri, want) {
			t.Errorf("uri %q missing %q", uri, want)
		}
	}
	if applier.calls.Load() != 0 {
		t.Error("credentials must not restart the proxy")
	}
	if _, err := os.Stat(srv.cfg.ServerInfoPath); err != nil {
		t.Errorf("server info not cached: %v", err)
	}
}

func TestApplyFailureIs500(t *testing.T) {
	srv, applier, _ := newTestServer(t)
	applier.err = errors.New("systemctl: exit status 1")

	rec := call(srv.Router(), "/add", "bot-token", `{"uuid":"cred-1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestConcurrentAddsAreSerialized(t *testing.T) {
	srv, applier, _ := newTestServer(t)
	router := srv.Router()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, _ := json.Marshal(map[string]string{"uuid": "cred-" + string(rune('a'+i))})
			rec := call(router, "/add", "bot-token", string(body))
			if rec.Code != http.StatusOK {
				t.Errorf("add %d: %d", i, rec.Code)
			}
		}(i)
	}
	wg.Wait()

	clients, err := srv.Clients()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(clients) != n+1 {
		t.Errorf("expected %d clients, got %d (lost update)", n+1, len(clients))
	}
	if applier.calls.Load() != n {
		t.Errorf("expected %d applies, got %d", n, applier.calls.Load())
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	body := `
shared_secret: bot-token
control_address: 203.0.113.5
public_host: node.example.net
public_key: pbk
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":4443" {
		t.Errorf("expected default listen, got %q", cfg.Listen)
	}
	if strings.Join(cfg.RestartCommand, " ") != "sudo systemctl restart xray" {
		t.Errorf("unexpected restart command %v", cfg.RestartCommand)
	}

	if err := os.WriteFile(path, []byte("public_host: x\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected validation error for missing secret")
	}
}

func TestCommandApplier(t *testing.T) {
	ok := &CommandApplier{Command: []string{"true"}}
	if err := ok.Apply(context.Background()); err != nil {
		t.Errorf("true: %v", err)
	}
	fail := &CommandApplier{Command: []string{"false"}}
	if err := fail.Apply(context.Background()); err == nil {
		t.Error("false: expected error")
	}
}
