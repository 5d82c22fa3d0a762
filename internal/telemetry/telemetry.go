// Package telemetry publishes the coordinator occupancy snapshot to an MQTT
// broker using the ThingsBoard device telemetry topic.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"garage-control/internal/model"
)

const (
	DefaultTopic    = "v1/devices/me/telemetry"
	DefaultInterval = 30 * time.Second
	publishTimeout  = 5 * time.Second
	appID           = "garage-control"
)

// SnapshotFunc returns the current status to publish.
type SnapshotFunc func(ctx context.Context) (model.Status, error)

// Publisher periodically sends snapshots.
type Publisher struct {
	Topic    string
	Interval time.Duration

	client paho.Client
	send   func(topic string, payload []byte) error
}

// ClientOptionsFromURL builds paho options from mqtt://[token@]host:port.
// The URL user is the device access token; client-id may be set as a query
// parameter and otherwise derives from the machine id.
func ClientOptionsFromURL(brokerURL string) (*paho.ClientOptions, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, err
	}
	scheme := u.Scheme
	if scheme == "" || scheme == "mqtt" {
		scheme = "tcp"
	}
	opts := paho.NewClientOptions()
	opts.AddBroker(scheme + "://" + u.Host).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(publishTimeout)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}
	clientID := u.Query().Get("client-id")
	if clientID == "" {
		clientID = ClientID()
	}
	opts.SetClientID(clientID)
	return opts, nil
}

// ClientID derives a stable per-host client id.
func ClientID() string {
	id, err := machineid.ProtectedID(appID)
	if err != nil {
		return fmt.Sprintf("%s-%d", appID, time.Now().UnixNano())
	}
	if len(id) > 16 {
		id = id[:16]
	}
	return appID + "-" + id
}

// Dial connects to the broker.
func Dial(brokerURL, topic string, interval time.Duration) (*Publisher, error) {
	opts, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	opts.SetOnConnectHandler(func(paho.Client) { log.Info().Str("broker", brokerURL).Msg("telemetry connected") })
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn().Err(err).Msg("telemetry connection lost")
	})
	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("connect %s: timeout", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", brokerURL, err)
	}
	p := newPublisher(topic, interval)
	p.client = client
	p.send = func(topic string, payload []byte) error {
		t := client.Publish(topic, 1, false, payload)
		if !t.WaitTimeout(publishTimeout) {
			return fmt.Errorf("publish %s: timeout", topic)
		}
		return t.Error()
	}
	return p, nil
}

func newPublisher(topic string, interval time.Duration) *Publisher {
	topic = sanitizeTopic(topic)
	if topic == "" {
		topic = DefaultTopic
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Publisher{Topic: topic, Interval: interval}
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	if p.client != nil {
		p.client.Disconnect(250)
	}
	return nil
}

// Payload flattens a status into telemetry keys such as
// vagas_livres_andar1_pne and num_carros_terreo.
func Payload(st model.Status) map[string]any {
	out := map[string]any{
		"veiculos_ativos":        st.ActiveVehicles,
		"estacionamento_fechado": st.Closed,
		"andar1_bloqueado":       st.Floor1Blocked,
		"andar2_bloqueado":       st.Floor2Blocked,
		"lotado":                 st.Full,
	}
	total := 0
	for floor, free := range st.Free {
		for _, c := range model.Categories {
			out["vagas_livres_"+floor+"_"+string(c)] = free.Get(c)
		}
		total += free.Total()
	}
	out["vagas_livres_total"] = total
	for floor, n := range st.Cars {
		out["num_carros_"+floor] = n
	}
	return out
}

// PublishOnce sends one snapshot.
func (p *Publisher) PublishOnce(ctx context.Context, snapshot SnapshotFunc) error {
	st, err := snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	b, err := json.Marshal(Payload(st))
	if err != nil {
		return err
	}
	return p.send(p.Topic, b)
}

// Run publishes every Interval until ctx is done. Failures are logged.
func (p *Publisher) Run(ctx context.Context, snapshot SnapshotFunc) error {
	t := time.NewTicker(p.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if err := p.PublishOnce(ctx, snapshot); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("topic", p.Topic).Msg("telemetry publish failed")
		}
	}
}

func sanitizeTopic(s string) string { return strings.Trim(s, "/ ") }
