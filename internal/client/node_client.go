package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wenwu/saas-platform/access-service/internal/metrics"
)

// ErrNodeUnreachable covers every failed node call: transport errors, timeouts,
// non-200 answers and undecodable bodies.
var ErrNodeUnreachable = errors.New("node unreachable")

// Node control methods
const (
	MethodAdd         = "add"
	MethodCredentials = "credentials"
	MethodDelete      = "delete"
)

// Alerter delivers operator alerts
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

type NodeClientConfig struct {
	Port    int
	Secret  string
	Timeout time.Duration
}

// NodeClient calls the node agent running on every proxy server
type NodeClient struct {
	port       int
	secret     string
	httpClient *http.Client
	alerter    Alerter
	metrics    *metrics.Metrics
	quiet      bool
}

// NodeRequest is the body of every node control call
type NodeRequest struct {
	UUID string `json:"uuid"`
}

// NodeResponse is the body of every node control answer
type NodeResponse struct {
	Message string `json:"message"`
}

// NewNodeClient creates a node client. Nodes use self-signed certificates.
func NewNodeClient(cfg NodeClientConfig, alerter Alerter, m *metrics.Metrics) *NodeClient {
	return &NodeClient{
		port:   cfg.Port,
		secret: cfg.Secret,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
				TLSHandshakeTimeout: 10 * time.Second,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		alerter: alerter,
		metrics: m,
	}
}

// Quiet returns a copy that reports failures to the caller only, without an operator alert
func (c *NodeClient) Quiet() *NodeClient {
	cp := *c
	cp.quiet = true
	return &cp
}

// Add provisions credentialID on the node
func (c *NodeClient) Add(ctx context.Context, address string, requesterID int64, credentialID string) error {
	_, err := c.call(ctx, address, MethodAdd, requesterID, credentialID)
	return err
}

// Credentials returns the connection URI for credentialID
func (c *NodeClient) Credentials(ctx context.Context, address string, requesterID int64, credentialID string) (string, error) {
	resp, err := c.call(ctx, address, MethodCredentials, requesterID, credentialID)
	if err != nil {
		return "", err
	}
	if resp.Message == "" {
		err := fmt.Errorf("%w: %s /%s returned an empty uri", ErrNodeUnreachable, address, MethodCredentials)
		c.alert(ctx, address, MethodCredentials, err)
		return "", err
	}
	return resp.Message, nil
}

// Delete revokes credentialID on the node
func (c *NodeClient) Delete(ctx context.Context, address string, requesterID int64, credentialID string) error {
	_, err := c.call(ctx, address, MethodDelete, requesterID, credentialID)
	return err
}

func (c *NodeClient) call(ctx context.Context, address, method string, requesterID int64, credentialID string) (*NodeResponse, error) {
	start := time.Now()
	resp, err := c.do(ctx, address, method, requesterID, credentialID)
	c.metrics.ObserveNodeCall(method, err, time.Since(start))
	if err != nil {
		err = fmt.Errorf("%w: %s /%s: %v", ErrNodeUnreachable, address, method, err)
		log.Printf("[NodeClient] %v", err)
		c.alert(ctx, address, method, err)
		return nil, err
	}
	return resp, nil
}

func (c *NodeClient) do(ctx context.Context, address, method string, requesterID int64, credentialID string) (*NodeResponse, error) {
	url := "https://" + net.JoinHostPort(address, strconv.Itoa(c.port)) + "/" + method
	log.Printf("[NodeClient] POST %s (credential: %s)", url, credentialID)

	body, err := json.Marshal(&NodeRequest{UUID: credentialID})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Token", c.secret)
	httpReq.Header.Set("UserId", strconv.FormatInt(requesterID, 10))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var result NodeResponse
	decodeErr := json.Unmarshal(respBody, &result)

	if resp.StatusCode != http.StatusOK {
		msg := result.Message
		if decodeErr != nil || msg == "" {
			msg = string(respBody)
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w (body: %s)", decodeErr, string(respBody))
	}

	return &result, nil
}

func (c *NodeClient) alert(ctx context.Context, address, method string, cause error) {
	if c.quiet || c.alerter == nil {
		return
	}
	// html-ish payloads from proxies in front of the node break telegram formatting
	msg := strings.NewReplacer("<", "", ">", "").Replace(cause.Error())
	text := fmt.Sprintf("Node %s failed.\nMessage: %s\nMethod: /%s", address, msg, method)

	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.alerter.Alert(alertCtx, text); err != nil {
		log.Printf("[NodeClient] Failed to alert operator: %v", err)
	}
}
