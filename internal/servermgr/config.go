package servermgr

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config lists the emulated peripheral buses. This mirrors config/mocktty.yaml.
type Config struct {
	Token     string     `yaml:"matricula"`
	Endpoints []Endpoint `yaml:"endpoints"`
}

// Endpoint is one bus carrying both cameras and the board.
type Endpoint struct {
	Name          string `yaml:"name"`
	Mode          string `yaml:"mode"`           // rtu_over_tcp | serial (auto-detect if empty)
	ListenAddress string `yaml:"listen_address"` // e.g. 127.0.0.1:5020
	SerialPort    string `yaml:"serial_port"`
	BaudRate      int    `yaml:"baud_rate"`
	DataBits      int    `yaml:"data_bits"`
	StopBits      int    `yaml:"stop_bits"`
	Parity        string `yaml:"parity"`

	SpawnSocat bool   `yaml:"spawn_socat"`
	SocatLink  string `yaml:"socat_link"`
	SocatPeer  string `yaml:"socat_peer"`

	EntryCamera  uint8         `yaml:"camera_entrada"`
	ExitCamera   uint8         `yaml:"camera_saida"`
	Board        uint8         `yaml:"placar"`
	CaptureDelay time.Duration `yaml:"capture_delay"`
	Plates       []string      `yaml:"plates"`
	Confidence   int           `yaml:"confidence"`
	FailEvery    int           `yaml:"fail_every"` // every Nth capture fails; 0 never
}

func LoadYAML(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if len(cfg.Endpoints) == 0 {
		return Config{}, fmt.Errorf("no endpoints configured")
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Token == "" {
		c.Token = "0000"
	}
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if ep.Name == "" {
			ep.Name = fmt.Sprintf("bus%d", i+1)
		}
		if ep.EntryCamera == 0 {
			ep.EntryCamera = 0x11
		}
		if ep.ExitCamera == 0 {
			ep.ExitCamera = 0x12
		}
		if ep.Board == 0 {
			ep.Board = 0x20
		}
		if ep.CaptureDelay <= 0 {
			ep.CaptureDelay = 300 * time.Millisecond
		}
		if ep.Confidence <= 0 {
			ep.Confidence = 92
		}
		if len(ep.Plates) == 0 {
			ep.Plates = []string{"ABC1D23", "BRA2E19", "QWE4R56"}
		}
	}
}
