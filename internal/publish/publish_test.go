package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tamzrod/bms-telemetry/internal/config"
	"github.com/tamzrod/bms-telemetry/internal/decoder"
	"github.com/tamzrod/bms-telemetry/internal/matrix"
	"github.com/tamzrod/bms-telemetry/internal/observability"
)

// ---- fakes ----

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	open         bool
	err          error
	msgs         []published
	disconnected bool
}

func (f *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return fakeToken{err: f.err}
	}
	f.msgs = append(f.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return fakeToken{}
}

func (f *fakeClient) IsConnectionOpen() bool { return f.open }
func (f *fakeClient) Disconnect(uint)        { f.disconnected = true }

// ---- tests ----

func TestTopic(t *testing.T) {
	if got := Topic("bms", "pack-a", matrix.KindSocMinMax); got != "bms/pack-a/soc_minmax" {
		t.Fatalf("topic: %s", got)
	}
}

func TestMarshal_JSONAbsentIsNull(t *testing.T) {
	env := Envelope{
		Session: "pack-a",
		Kind:    matrix.KindVoltage.String(),
		At:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Event: matrix.Voltage{
			Module: 1,
			Bank:   2,
			Cells:  [3]matrix.Reading{matrix.Present(3300), matrix.Absent, matrix.Absent},
		},
	}

	b, err := Marshal(config.FormatJSON, env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got struct {
		Session string `json:"session"`
		Kind    string `json:"kind"`
		At      string `json:"at"`
		Event   struct {
			Module int        `json:"module"`
			Cells  []*float64 `json:"cells"`
		} `json:"event"`
	}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Session != "pack-a" || got.Kind != "voltage" || got.At != "2026-01-02T03:04:05Z" {
		t.Fatalf("envelope: %+v", got)
	}
	if got.Event.Module != 1 || len(got.Event.Cells) != 3 {
		t.Fatalf("event: %+v", got.Event)
	}
	if got.Event.Cells[0] == nil || *got.Event.Cells[0] != 3300 || got.Event.Cells[1] != nil {
		t.Fatalf("cells: %s", b)
	}
}

func TestMarshal_Msgpack(t *testing.T) {
	env := Envelope{Session: "s", Kind: "current", At: time.Now(), Event: matrix.Current{Amps: -1.5}}

	b, err := Marshal(config.FormatMsgpack, env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got map[string]interface{}
	if err := msgpack.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ev, ok := got["event"].(map[string]interface{})
	if !ok {
		t.Fatalf("event: %#v", got["event"])
	}
	if ev["amps"] != -1.5 {
		t.Fatalf("amps: %#v", ev["amps"])
	}
}

func TestMarshal_UnknownFormat(t *testing.T) {
	if _, err := Marshal("xml", Envelope{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPublisher_RunPublishesAll(t *testing.T) {
	cli := &fakeClient{open: true}
	m := observability.NewMetrics(prometheus.NewRegistry())
	p := newPublisher(cli, config.MQTTConfig{TopicPrefix: "bms", QoS: 1, Format: config.FormatJSON}, "pack-a", "id-1", m, zerolog.Nop())

	hub := decoder.NewHub()
	sub := hub.Subscribe()
	hub.Publish(decoder.Record{At: time.Now(), Event: matrix.SocMinMax{Mean: 50}})
	hub.Publish(decoder.Record{At: time.Now(), Event: matrix.Current{Amps: 3}})
	hub.Close()

	if err := p.Run(context.Background(), sub); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(cli.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(cli.msgs))
	}
	if cli.msgs[0].topic != "bms/pack-a/soc_minmax" || cli.msgs[1].topic != "bms/pack-a/current" {
		t.Fatalf("topics: %s, %s", cli.msgs[0].topic, cli.msgs[1].topic)
	}
	if cli.msgs[0].qos != 1 {
		t.Fatalf("qos: %d", cli.msgs[0].qos)
	}
	if p.Published() != 2 {
		t.Fatalf("published: %d", p.Published())
	}
	if got := testutil.ToFloat64(m.Published.WithLabelValues("ok")); got != 2 {
		t.Fatalf("ok counter: %v", got)
	}
}

func TestPublisher_FailuresCountedNotFatal(t *testing.T) {
	cli := &fakeClient{open: false}
	m := observability.NewMetrics(prometheus.NewRegistry())
	p := newPublisher(cli, config.MQTTConfig{TopicPrefix: "bms"}, "s", "id", m, zerolog.Nop())

	if err := p.Publish(decoder.Record{Event: matrix.Current{}}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	cli.open = true
	cli.err = errors.New("broker said no")

	hub := decoder.NewHub()
	sub := hub.Subscribe()
	hub.Publish(decoder.Record{Event: matrix.Current{}})
	hub.Publish(decoder.Record{Event: matrix.Current{}})
	hub.Close()

	if err := p.Run(context.Background(), sub); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := testutil.ToFloat64(m.Published.WithLabelValues("error")); got != 2 {
		t.Fatalf("error counter: %v", got)
	}
}

func TestPublisher_Close(t *testing.T) {
	cli := &fakeClient{}
	p := newPublisher(cli, config.MQTTConfig{}, "s", "id", nil, zerolog.Nop())
	p.Close()
	if !cli.disconnected {
		t.Fatalf("expected disconnect")
	}
}
