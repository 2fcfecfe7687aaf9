package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type (
	// Endpoint names one carrier endpoint: proto is tcp, kcp or quic.
	Endpoint struct {
		Proto   string `json:"proto" yaml:"proto"`
		Address string `json:"address" yaml:"address"`
	}

	Config struct {
		// Role is "host" or "device".
		Role string `json:"role" yaml:"role"`
		// Serial identifies this node to the other side of a carrier.
		Serial string `json:"serial" yaml:"serial"`
		// Listen is the client front door accepting framed requests.
		Listen string `json:"listen" yaml:"listen"`
		// Carriers are inbound packet-carrier listeners.
		Carriers []Endpoint `json:"carriers" yaml:"carriers"`
		// Peers are outbound packet-carrier targets, redialed until up.
		Peers []Endpoint `json:"peers" yaml:"peers"`
		// SecretKey keys tcp and kcp carriers; stored with EncodeSecret.
		SecretKey string `json:"secret_key" yaml:"secretKey"`
		Compress  bool   `json:"compress" yaml:"compress"`
	}
)

func New() *Config {
	return &Config{
		Role:   "host",
		Listen: "127.0.0.1:5037",
	}
}

// Load reads a yaml config file; a missing file yields the defaults.
func Load(path string) (cfg *Config, err error) {
	var buf []byte
	cfg = New()
	if buf, err = os.ReadFile(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err = yaml.Unmarshal(buf, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
