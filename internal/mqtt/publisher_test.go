package mqtt

import (
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeongseonghan/tonemodem/internal/config"
	"github.com/jeongseonghan/tonemodem/internal/metrics"
	"github.com/jeongseonghan/tonemodem/internal/protocol"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	sent []published
	err  error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.sent = append(c.sent, published{topic, qos, retained, payload.([]byte)})
	return doneToken{c.err}
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestPublisher(fc *fakeClient, m *metrics.Collector) *Publisher {
	cfg := config.Default().MQTT
	cfg.QoS = 1
	cfg.Retain = true
	return newPublisher(nil, fc, cfg, m, quietLogger())
}

func TestTopic(t *testing.T) {
	p := newTestPublisher(&fakeClient{}, nil)
	assert.Equal(t, "tonemodem/messages", p.Topic("messages"))

	p.cfg.TopicPrefix = "lab/modem/"
	assert.Equal(t, "lab/modem/status", p.Topic("status"))

	p.cfg.TopicPrefix = ""
	assert.Equal(t, "status", p.Topic("status"))
}

func TestNewMessagePayload(t *testing.T) {
	id := uuid.New()
	at := time.Unix(1700000000, 0)
	msg := protocol.Message{
		ID:         id,
		Data:       []byte("?i"),
		Erasures:   []int{0, 2, 3, 4, 5, 6},
		Pass:       protocol.PassFallback,
		SyncScore:  0.91,
		Offset:     8192,
		ReceivedAt: at,
	}

	p := NewMessagePayload(msg)
	assert.Equal(t, id.String(), p.ID)
	assert.Equal(t, int64(1700000000), p.Timestamp)
	assert.Equal(t, "?i", p.Text)
	assert.False(t, p.Valid)
	assert.Equal(t, "fallback", p.Pass)
	assert.Equal(t, 6, p.Erasures)
	assert.Zero(t, p.Corrected)
	assert.Equal(t, int64(8192), p.Offset)
}

func TestPublishMessage(t *testing.T) {
	fc := &fakeClient{}
	p := newTestPublisher(fc, nil)

	require.NoError(t, p.PublishMessage(protocol.Message{ID: uuid.New(), Data: []byte("hello"), Valid: true}))
	require.Len(t, fc.sent, 1)
	assert.Equal(t, "tonemodem/messages", fc.sent[0].topic)
	assert.Equal(t, byte(1), fc.sent[0].qos)
	assert.True(t, fc.sent[0].retained)

	var body map[string]any
	require.NoError(t, json.Unmarshal(fc.sent[0].payload, &body))
	assert.Equal(t, "hello", body["text"])
	assert.Equal(t, "erasures", body["pass"])
	assert.Equal(t, true, body["valid"])
}

func TestPublish_Error(t *testing.T) {
	fc := &fakeClient{err: errors.New("not connected")}
	p := newTestPublisher(fc, nil)
	err := p.PublishMessage(protocol.Message{})
	assert.ErrorContains(t, err, "not connected")
}

func TestAttach_PublishesReceivedMessages(t *testing.T) {
	cfg := protocol.DefaultConfig()
	tx, err := protocol.NewTransmitter(cfg, quietLogger())
	require.NoError(t, err)
	rx, err := protocol.NewReceiver(cfg, quietLogger())
	require.NoError(t, err)

	var seen int
	rx.OnMessage = func(protocol.Message) { seen++ }

	fc := &fakeClient{}
	p := newTestPublisher(fc, nil)
	p.Attach(rx)

	signal, err := tx.TransmitString("broker")
	require.NoError(t, err)
	rx.ReceiveBuffer(signal)

	assert.Equal(t, 1, seen)
	require.Len(t, fc.sent, 1)
	var body MessagePayload
	require.NoError(t, json.Unmarshal(fc.sent[0].payload, &body))
	assert.Equal(t, "broker", body.Text)
	assert.True(t, body.Valid)
}

func TestPublishStatus(t *testing.T) {
	rx, err := protocol.NewReceiver(protocol.DefaultConfig(), quietLogger())
	require.NoError(t, err)

	m := metrics.New()
	m.ObserveTransmission(42)
	fc := &fakeClient{}
	p := newTestPublisher(fc, m)

	require.NoError(t, p.PublishStatus(rx))
	require.Len(t, fc.sent, 1)
	assert.Equal(t, "tonemodem/status", fc.sent[0].topic)

	var body StatusPayload
	require.NoError(t, json.Unmarshal(fc.sent[0].payload, &body))
	assert.Equal(t, "UNSYNCED", body.State)
	assert.Zero(t, body.History)
	assert.Equal(t, 42.0, body.Metrics["transmitted_samples_total"])
}
