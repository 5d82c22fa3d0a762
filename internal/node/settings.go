package node

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"garage-control/internal/config"
	"garage-control/internal/gate"
	"garage-control/internal/ledger"
	"garage-control/internal/model"
	"garage-control/internal/utils"
)

// Endpoint is a node's host and TCP port.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) Addr() string { return net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) }

// ListenAddr binds every interface on the endpoint port.
func (e Endpoint) ListenAddr() string { return net.JoinHostPort("", strconv.Itoa(e.Port)) }

// FloorPins are the GPIO lines of a floor: slot multiplexer plus ramp sensors.
type FloorPins struct {
	Addr     []int
	Sensor   int
	Passage1 int
	Passage2 int
}

// GroundPins are the GPIO lines of the ground floor.
type GroundPins struct {
	Addr   []int
	Sensor int
	Entry  gate.Pins
	Exit   gate.Pins
}

// Settings is the typed configuration shared by every node binary.
type Settings struct {
	LogLevel   string
	GPIODriver string

	Central Endpoint
	Ground  Endpoint
	Floor1  Endpoint
	Floor2  Endpoint

	Serial        utils.SerialParams
	SerialRetries int
	Token         string
	EntryCamera   byte
	ExitCamera    byte
	BoardAddr     byte

	Rate          float64
	Capacity      [3]model.Slots
	MinConfidence int

	CaptureTimeout    time.Duration
	GateTimeout       time.Duration
	PresenceTimeout   time.Duration
	CloseDelay        time.Duration
	ScanInterval      time.Duration
	HeartbeatInterval time.Duration
	PassageWindow     time.Duration

	GroundPins GroundPins
	Floor1Pins FloorPins
	Floor2Pins FloorPins

	StorageDir   string
	StorageType  string
	StorageQueue int
	DBPath       string

	HTTPAddr string

	TelemetryEnabled  bool
	TelemetryURL      string
	TelemetryTopic    string
	TelemetryInterval time.Duration
}

// FloorPinsFor returns the pin map of floor 1 or 2.
func (s Settings) FloorPinsFor(f model.Floor) FloorPins {
	if f == model.Second {
		return s.Floor2Pins
	}
	return s.Floor1Pins
}

// FloorEndpoint returns the endpoint of floor 1 or 2.
func (s Settings) FloorEndpoint(f model.Floor) Endpoint {
	if f == model.Second {
		return s.Floor2
	}
	return s.Floor1
}

func capacity(v *config.Values, floor string) model.Slots {
	return model.Slots{
		PNE:    v.Int("vagas_"+floor+"_pne", 2),
		Idoso:  v.Int("vagas_"+floor+"_idoso", 2),
		Comuns: v.Int("vagas_"+floor+"_comuns", 4),
	}
}

// FromValues builds Settings with defaults for every missing key. The keys
// follow the deployed garage.conf naming.
func FromValues(v *config.Values) (Settings, error) {
	s := Settings{
		LogLevel:   v.String("log_level", "info"),
		GPIODriver: v.String("gpio_driver", "sim"),

		Central: Endpoint{v.String("servidor_central_host", "127.0.0.1"), v.Int("servidor_central_port", 5000)},
		Ground:  Endpoint{v.String("servidor_terreo_host", "127.0.0.1"), v.Int("servidor_terreo_port", 5001)},
		Floor1:  Endpoint{v.String("servidor_andar1_host", "127.0.0.1"), v.Int("servidor_andar1_port", 5002)},
		Floor2:  Endpoint{v.String("servidor_andar2_host", "127.0.0.1"), v.Int("servidor_andar2_port", 5003)},

		Serial: utils.SerialParams{
			Address:  v.String("modbus_port", "/dev/ttyUSB0"),
			BaudRate: v.Int("modbus_baudrate", 115200),
			Timeout:  v.Duration("modbus_timeout", 500*time.Millisecond),
		},
		SerialRetries: v.Int("modbus_retries", 3),
		Token:         v.String("matricula", "0000"),
		EntryCamera:   byte(v.Int("modbus_camera_entrada", 0x11)),
		ExitCamera:    byte(v.Int("modbus_camera_saida", 0x12)),
		BoardAddr:     byte(v.Int("modbus_placar", 0x20)),

		Rate:          v.Float("preco_por_minuto", ledger.DefaultRate),
		Capacity:      [3]model.Slots{capacity(v, "terreo"), capacity(v, "andar1"), capacity(v, "andar2")},
		MinConfidence: v.Int("confianca_minima", 70),

		CaptureTimeout:    v.Duration("lpr_timeout", 2*time.Second),
		GateTimeout:       v.Duration("cancela_timeout", 10*time.Second),
		PresenceTimeout:   v.Duration("presenca_timeout", 30*time.Second),
		CloseDelay:        v.Duration("cancela_atraso_fechar", 2*time.Second),
		ScanInterval:      v.Duration("varredura_intervalo", time.Second),
		HeartbeatInterval: v.Duration("heartbeat_intervalo", 10*time.Second),
		PassageWindow:     v.Duration("passagem_janela", 5*time.Second),

		GroundPins: GroundPins{
			Addr:   v.IntList("gpio_terreo_endereco", []int{17, 18}),
			Sensor: v.Int("gpio_terreo_sensor", 8),
			Entry: gate.Pins{
				OpenSensor:  v.Int("gpio_entrada_sensor_abertura", 7),
				CloseSensor: v.Int("gpio_entrada_sensor_fechamento", 1),
				Motor:       v.Int("gpio_entrada_motor", 23),
			},
			Exit: gate.Pins{
				OpenSensor:  v.Int("gpio_saida_sensor_abertura", 12),
				CloseSensor: v.Int("gpio_saida_sensor_fechamento", 25),
				Motor:       v.Int("gpio_saida_motor", 24),
			},
		},
		Floor1Pins: FloorPins{
			Addr:     v.IntList("gpio_andar1_endereco", []int{16, 20, 21}),
			Sensor:   v.Int("gpio_andar1_sensor", 27),
			Passage1: v.Int("gpio_andar1_passagem1", 22),
			Passage2: v.Int("gpio_andar1_passagem2", 11),
		},
		Floor2Pins: FloorPins{
			Addr:     v.IntList("gpio_andar2_endereco", []int{0, 5, 6}),
			Sensor:   v.Int("gpio_andar2_sensor", 13),
			Passage1: v.Int("gpio_andar2_passagem1", 19),
			Passage2: v.Int("gpio_andar2_passagem2", 26),
		},

		StorageDir:   v.String("storage_dir", "data"),
		StorageType:  v.String("storage_file_type", "jsonl"),
		StorageQueue: v.Int("storage_queue", 1000),
		DBPath:       v.String("db_path", "data/garage.sqlite"),

		HTTPAddr: v.String("http_addr", ":8080"),

		TelemetryEnabled:  v.Bool("telemetry_enabled", false),
		TelemetryURL:      v.String("telemetry_url", "mqtt://localhost:1883"),
		TelemetryTopic:    v.String("telemetry_topic", "v1/devices/me/telemetry"),
		TelemetryInterval: v.Duration("telemetry_interval", 30*time.Second),
	}
	if err := v.Err(); err != nil {
		return Settings{}, err
	}
	return s, s.Validate()
}

// Validate reports every invalid setting at once.
func (s Settings) Validate() error {
	var errs []error
	for name, e := range map[string]Endpoint{"central": s.Central, "terreo": s.Ground, "andar1": s.Floor1, "andar2": s.Floor2} {
		if e.Port <= 0 || e.Port > 65535 {
			errs = append(errs, fmt.Errorf("%s port %d out of range", name, e.Port))
		}
	}
	if s.Rate < 0 {
		errs = append(errs, fmt.Errorf("preco_por_minuto must not be negative"))
	}
	if s.SerialRetries < 1 {
		errs = append(errs, fmt.Errorf("modbus_retries must be at least 1"))
	}
	if s.MinConfidence < 0 || s.MinConfidence > 100 {
		errs = append(errs, fmt.Errorf("confianca_minima must be within 0..100"))
	}
	for i, c := range s.Capacity {
		if c.PNE < 0 || c.Idoso < 0 || c.Comuns < 0 {
			errs = append(errs, fmt.Errorf("negative slot capacity on %s", model.Floor(i).Name()))
		}
	}
	for name, pins := range map[string][]int{
		"gpio_terreo_endereco": s.GroundPins.Addr,
		"gpio_andar1_endereco": s.Floor1Pins.Addr,
		"gpio_andar2_endereco": s.Floor2Pins.Addr,
	} {
		if len(pins) == 0 {
			errs = append(errs, fmt.Errorf("%s must list at least one pin", name))
		}
	}
	if s.TelemetryEnabled && s.TelemetryURL == "" {
		errs = append(errs, fmt.Errorf("telemetry_url must be set when telemetry is enabled"))
	}
	return errors.Join(errs...)
}

// LedgerConfig extracts the coordinator billing and capacity settings.
func (s Settings) LedgerConfig() ledger.Config {
	return ledger.Config{Rate: s.Rate, Capacity: s.Capacity}
}
