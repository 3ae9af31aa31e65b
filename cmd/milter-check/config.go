package main

import (
	"fmt"
	"os"
	"time"

	milter "github.com/d--j/go-milter-agent"
	"gopkg.in/yaml.v3"
)

// config describes the milter to check and the SMTP transaction to simulate.
type config struct {
	Network  string            `yaml:"network"`
	Address  string            `yaml:"address"`
	Timeout  time.Duration     `yaml:"timeout"`
	Hostname string            `yaml:"hostname"`
	Family   string            `yaml:"family"`
	Port     uint16            `yaml:"port"`
	ConnAddr string            `yaml:"conn_addr"`
	Helo     string            `yaml:"helo"`
	From     string            `yaml:"from"`
	Rcpt     []string          `yaml:"rcpt"`
	Actions  uint32            `yaml:"actions"`
	Disabled uint32            `yaml:"disabled_msgs"`
	Macros   map[string]string `yaml:"macros"`
}

func defaultConfig() *config {
	return &config{
		Network:  "unix",
		Timeout:  10 * time.Second,
		Hostname: "localhost",
		Family:   string(milter.FamilyInet),
		Port:     2525,
		ConnAddr: "127.0.0.1",
		Helo:     "localhost",
		From:     "foxcpp@example.org",
		Rcpt:     []string{"foxcpp@example.com"},
		Actions:  uint32(milter.AllActions),
	}
}

// loadConfig reads path on top of the defaults. An empty path or a missing file is not an error.
func loadConfig(path string) (*config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *config) family() (milter.ProtoFamily, error) {
	if len(c.Family) != 1 {
		return 0, fmt.Errorf("%w: %q", milter.ErrUnknownSocketFamily, c.Family)
	}
	f := milter.ProtoFamily(c.Family[0])
	switch f {
	case milter.FamilyUnknown, milter.FamilyUnix, milter.FamilyInet, milter.FamilyInet6:
		return f, nil
	}
	return 0, fmt.Errorf("%w: %q", milter.ErrUnknownSocketFamily, c.Family)
}

func (c *config) macroBag() *milter.MacroBag {
	bag := milter.NewMacroBag()
	for name, value := range c.Macros {
		bag.Set(name, value)
	}
	return bag
}
