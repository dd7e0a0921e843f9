package nodeagent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// XrayConfig is the proxy configuration file. The document is kept generic so
// fields this agent does not know about survive a rewrite.
type XrayConfig struct {
	path string
}

func NewXrayConfig(path string) *XrayConfig {
	return &XrayConfig{path: path}
}

type xrayDocument map[string]any

func (x *XrayConfig) load() (xrayDocument, error) {
	data, err := os.ReadFile(x.path)
	if err != nil {
		return nil, fmt.Errorf("read xray config: %w", err)
	}
	var doc xrayDocument
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, fmt.Errorf("parse xray config: %w", err)
	}
	return doc, nil
}

// save writes through a temp file so a crash never leaves a truncated config
func (x *XrayConfig) save(doc xrayDocument) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("encode xray config: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(x.path), ".xray-*.json")
	if err != nil {
		return fmt.Errorf("write xray config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write xray config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write xray config: %w", err)
	}
	if info, err := os.Stat(x.path); err == nil {
		_ = os.Chmod(tmp.Name(), info.Mode().Perm())
	}
	if err := os.Rename(tmp.Name(), x.path); err != nil {
		return fmt.Errorf("replace xray config: %w", err)
	}
	return nil
}

// firstInbound returns inbounds[0]
func (d xrayDocument) firstInbound() (map[string]any, error) {
	inbounds, ok := d["inbounds"].([]any)
	if !ok || len(inbounds) == 0 {
		return nil, fmt.Errorf("xray config has no inbounds")
	}
	inbound, ok := inbounds[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("xray config inbounds[0] is not an object")
	}
	return inbound, nil
}

func (d xrayDocument) settings() (map[string]any, error) {
	inbound, err := d.firstInbound()
	if err != nil {
		return nil, err
	}
	settings, ok := inbound["settings"].(map[string]any)
	if !ok {
		settings = map[string]any{}
		inbound["settings"] = settings
	}
	return settings, nil
}

func (d xrayDocument) clients() ([]any, error) {
	settings, err := d.settings()
	if err != nil {
		return nil, err
	}
	clients, _ := settings["clients"].([]any)
	return clients, nil
}

func (d xrayDocument) setClients(clients []any) error {
	settings, err := d.settings()
	if err != nil {
		return err
	}
	if clients == nil {
		clients = []any{}
	}
	settings["clients"] = clients
	return nil
}

// AddClient appends {"id": id, "email": "<caller>@example.com"} to the first inbound
func (x *XrayConfig) AddClient(id, caller string) error {
	doc, err := x.load()
	if err != nil {
		return err
	}
	clients, err := doc.clients()
	if err != nil {
		return err
	}
	clients = append(clients, map[string]any{
		"id":    id,
		"email": caller + "@example.com",
	})
	if err := doc.setClients(clients); err != nil {
		return err
	}
	return x.save(doc)
}

// RemoveClient drops every client whose "uuid" field equals id.
// AddClient writes the key as "id", so clients it added are not matched here.
// Entries without a "uuid" field are kept.
func (x *XrayConfig) RemoveClient(id string) (int, error) {
	doc, err := x.load()
	if err != nil {
		return 0, err
	}
	clients, err := doc.clients()
	if err != nil {
		return 0, err
	}
	kept := make([]any, 0, len(clients))
	for _, c := range clients {
		entry, ok := c.(map[string]any)
		if ok && entry["uuid"] == id {
			continue
		}
		kept = append(kept, c)
	}
	if err := doc.setClients(kept); err != nil {
		return 0, err
	}
	if err := x.save(doc); err != nil {
		return 0, err
	}
	return len(clients) - len(kept), nil
}

// Client is one entry of the inbound client list
type Client struct {
	ID    string
	UUID  string
	Email string
}

func (x *XrayConfig) ListClients() ([]Client, error) {
	doc, err := x.load()
	if err != nil {
		return nil, err
	}
	clients, err := doc.clients()
	if err != nil {
		return nil, err
	}
	out := make([]Client, 0, len(clients))
	for _, c := range clients {
		entry, ok := c.(map[string]any)
		if !ok {
			continue
		}
		var cl Client
		cl.ID, _ = entry["id"].(string)
		cl.UUID, _ = entry["uuid"].(string)
		cl.Email, _ = entry["email"].(string)
		out = append(out, cl)
	}
	return out, nil
}

// RealityParams are the connection parameters read from the first inbound
type RealityParams struct {
	SNI  string
	SID  string
	Port int
}

func (x *XrayConfig) RealityParams() (*RealityParams, error) {
	doc, err := x.load()
	if err != nil {
		return nil, err
	}
	inbound, err := doc.firstInbound()
	if err != nil {
		return nil, err
	}

	port, ok := inbound["port"].(float64)
	if !ok {
		return nil, fmt.Errorf("xray inbound has no numeric port")
	}
	stream, _ := inbound["streamSettings"].(map[string]any)
	reality, _ := stream["realitySettings"].(map[string]any)
	if reality == nil {
		return nil, fmt.Errorf("xray inbound has no realitySettings")
	}
	dest, _ := reality["dest"].(string)
	if dest == "" {
		return nil, fmt.Errorf("realitySettings.dest is empty")
	}
	shortIDs, _ := reality["shortIds"].([]any)
	if len(shortIDs) == 0 {
		return nil, fmt.Errorf("realitySettings.shortIds is empty")
	}
	sid, _ := shortIDs[0].(string)

	return &RealityParams{
		SNI:  strings.Split(dest, ":")[0],
		SID:  sid,
		Port: int(port),
	}, nil
}
