package nodeagent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"sync"
)

// ServerInfo is the cached set of parameters every client link shares
type ServerInfo struct {
	SNI  string `json:"SNI"`
	SID  string `json:"SID"`
	PBK  string `json:"pbk"`
	Port int    `json:"port"`
	ALPN string `json:"alpn"`
}

// ServerInfoCache derives ServerInfo from the xray config once and keeps it in a JSON file
type ServerInfoCache struct {
	path      string
	publicKey string
	xray      *XrayConfig

	mu   sync.Mutex
	info *ServerInfo
}

func NewServerInfoCache(path, publicKey string, xray *XrayConfig) *ServerInfoCache {
	return &ServerInfoCache{path: path, publicKey: publicKey, xray: xray}
}

func (c *ServerInfoCache) Get() (*ServerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.info != nil {
		return c.info, nil
	}

	data, err := os.ReadFile(c.path)
	switch {
	case err == nil:
		var info ServerInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return nil, fmt.Errorf("parse server info: %w", err)
		}
		c.info = &info
		return c.info, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read server info: %w", err)
	}

	params, err := c.xray.RealityParams()
	if err != nil {
		return nil, err
	}
	info := &ServerInfo{
		SNI:  params.SNI,
		SID:  params.SID,
		PBK:  c.publicKey,
		Port: params.Port,
		ALPN: "h2",
	}
	data, err = json.MarshalIndent(info, "", "    ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write server info: %w", err)
	}
	c.info = info
	return info, nil
}

// VlessURI builds the client link for id
func VlessURI(info *ServerInfo, id, host, label string) string {
	return fmt.Sprintf("vless://%s@%s:%d?security=reality&sni=%s&alpn=%s&fp=chrome&pbk=%s&sid=%s&type=tcp&flow=xtls-rprx-vision&encryption=none#%s",
		id, host, info.Port,
		url.QueryEscape(info.SNI), url.QueryEscape(info.ALPN), url.QueryEscape(info.PBK), url.QueryEscape(info.SID),
		url.PathEscape(label))
}
