package nodeagent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the node agent's YAML configuration
type Config struct {
	Listen         string   `yaml:"listen"`
	TLSCert        string   `yaml:"tls_cert"`
	TLSKey         string   `yaml:"tls_key"`
	SharedSecret   string   `yaml:"shared_secret"`
	ControlAddress string   `yaml:"control_address"` // the only source address allowed to call the agent
	XrayConfigPath string   `yaml:"xray_config"`
	PublicHost     string   `yaml:"public_host"`
	PublicKey      string   `yaml:"public_key"` // reality public key
	ServerInfoPath string   `yaml:"server_info"`
	RestartCommand []string `yaml:"restart_command"`
	LinkLabel      string   `yaml:"link_label"`
	LogFile        string   `yaml:"log_file"`
}

func defaultConfig() Config {
	return Config{
		Listen:         ":4443",
		XrayConfigPath: "/usr/local/etc/xray/config.json",
		ServerInfoPath: "serverinfo.json",
		RestartCommand: []string{"sudo", "systemctl", "restart", "xray"},
		LinkLabel:      "VLESS VPN",
	}
}

// LoadConfig reads path over the defaults
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.SharedSecret == "" {
		return fmt.Errorf("shared_secret is required")
	}
	if c.ControlAddress == "" {
		return fmt.Errorf("control_address is required")
	}
	if c.XrayConfigPath == "" {
		return fmt.Errorf("xray_config is required")
	}
	if c.PublicHost == "" || c.PublicKey == "" {
		return fmt.Errorf("public_host and public_key are required")
	}
	if len(c.RestartCommand) == 0 {
		return fmt.Errorf("restart_command must not be empty")
	}
	return nil
}
