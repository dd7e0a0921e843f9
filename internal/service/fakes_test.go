package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wenwu/saas-platform/access-service/internal/catalog"
	"github.com/wenwu/saas-platform/access-service/internal/client"
	"github.com/wenwu/saas-platform/access-service/internal/metrics"
	"github.com/wenwu/saas-platform/access-service/internal/models"
	"github.com/wenwu/saas-platform/access-service/internal/repository"
)

type nodeCall struct {
	Method       string
	Address      string
	CredentialID string
}

// fakeNode records calls and fails methods per address
type fakeNode struct {
	mu    sync.Mutex
	calls []nodeCall
	fail  map[string]bool // "address/method"

	// after runs once a call has been recorded, outside the lock
	after func(method string)
}

func newFakeNode() *fakeNode {
	return &fakeNode{fail: map[string]bool{}}
}

func (n *fakeNode) failOn(address, method string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail[address+"/"+method] = true
}

func (n *fakeNode) record(method, address, credentialID string) error {
	n.mu.Lock()
	n.calls = append(n.calls, nodeCall{method, address, credentialID})
	failed := n.fail[address+"/"+method]
	after := n.after
	n.mu.Unlock()

	if after != nil {
		after(method)
	}
	if failed {
		return fmt.Errorf("%w: %s /%s: connection refused", client.ErrNodeUnreachable, address, method)
	}
	return nil
}

func (n *fakeNode) Add(ctx context.Context, address string, requesterID int64, credentialID string) error {
	return n.record(client.MethodAdd, address, credentialID)
}

func (n *fakeNode) Credentials(ctx context.Context, address string, requesterID int64, credentialID string) (string, error) {
	if err := n.record(client.MethodCredentials, address, credentialID); err != nil {
		return "", err
	}
	return "vless://" + credentialID + "@" + address + ":443", nil
}

func (n *fakeNode) Delete(ctx context.Context, address string, requesterID int64, credentialID string) error {
	return n.record(client.MethodDelete, address, credentialID)
}

func (n *fakeNode) methods() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.calls))
	for i, c := range n.calls {
		out[i] = c.Method
	}
	return out
}

type sentImage struct {
	ChatID  int64
	PNG     []byte
	Caption string
}

type sentText struct {
	ChatID int64
	Text   string
}

type fakeNotifier struct {
	mu        sync.Mutex
	texts     []sentText
	images    []sentImage
	alerts    []string
	failImage bool
	failText  bool
}

func (f *fakeNotifier) SendText(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failText {
		return errors.New("chat not found")
	}
	f.texts = append(f.texts, sentText{chatID, text})
	return nil
}

func (f *fakeNotifier) SendImage(ctx context.Context, chatID int64, png []byte, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failImage {
		return errors.New("bot was blocked by the user")
	}
	f.images = append(f.images, sentImage{chatID, png, caption})
	return nil
}

func (f *fakeNotifier) Alert(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, text)
	return nil
}

type fakeApprover struct {
	mu        sync.Mutex
	approvals []*models.PurchaseRequest
	notFound  []string
}

func (a *fakeApprover) RequestApproval(ctx context.Context, req *models.PurchaseRequest, server models.ServerNode, plan models.Plan) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.approvals = append(a.approvals, req)
	return nil
}

func (a *fakeApprover) RequestNotFound(ctx context.Context, requestID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notFound = append(a.notFound, requestID)
	return nil
}

type fakeEncoder struct{}

func (fakeEncoder) Encode(uri string) ([]byte, error) {
	return []byte("png:" + uri), nil
}

var testNow = time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)

var testCatalog = catalog.New(
	[]models.ServerNode{
		{ID: 1, Alias: "Paris-1", Address: "10.0.0.1", Location: "Paris", Flag: "FR"},
		{ID: 2, Alias: "Helsinki-1", Address: "10.0.0.2", Location: "Helsinki", Flag: "FIN"},
	},
	[]models.Plan{
		{ID: 1, Title: "1 month", Price: 150, DurationMonths: 1},
		{ID: 2, Title: "6 months", Price: 750, DurationMonths: 6},
	},
)

type harness struct {
	store    *repository.BBoltStore
	node     *fakeNode
	quiet    *fakeNode
	notifier *fakeNotifier
	approver *fakeApprover
	metrics  *metrics.Metrics
	workflow *Workflow
	sweeper  *Sweeper
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := repository.OpenBBolt(filepath.Join(t.TempDir(), "access.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)

	h := &harness{
		store:    store,
		node:     newFakeNode(),
		quiet:    newFakeNode(),
		notifier: &fakeNotifier{},
		approver: &fakeApprover{},
		metrics:  metrics.New(),
	}
	h.workflow = NewWorkflow(WorkflowDeps{
		Store:     store,
		Catalog:   testCatalog,
		Node:      h.node,
		QuietNode: h.quiet,
		Notifier:  h.notifier,
		Approver:  h.approver,
		Encoder:   fakeEncoder{},
		Metrics:   h.metrics,
		HelpURL:   "https://example.com/help",
		Now:       func() time.Time { return testNow },
	})
	h.sweeper = NewSweeper(store, h.node, h.notifier, h.metrics, 7*24*time.Hour)
	h.sweeper.now = func() time.Time { return testNow }
	return h
}

// pending inserts a request directly, bypassing Submit
func (h *harness) pending(t *testing.T, id string, requesterID int64, serverID, planID int) {
	t.Helper()
	err := h.store.CreateRequest(context.Background(), &models.PurchaseRequest{
		RequestID:   id,
		RequesterID: requesterID,
		ServerID:    serverID,
		PlanID:      planID,
		CreatedAt:   testNow,
	}, 0)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
}

func (h *harness) grant(t *testing.T, id string, requesterID int64, serverID int, validUntil time.Time) {
	t.Helper()
	srv, _ := testCatalog.Server(serverID)
	err := h.store.CreateGrant(context.Background(), &models.Grant{
		CredentialID:   id,
		ServerID:       serverID,
		RequesterID:    requesterID,
		PlanID:         1,
		ValidUntil:     validUntil,
		ServerAlias:    srv.Alias,
		ServerAddress:  srv.Address,
		ServerLocation: srv.Location,
	})
	if err != nil {
		t.Fatalf("create grant: %v", err)
	}
}
