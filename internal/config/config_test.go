package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeongseonghan/tonemodem/internal/modem"
	"github.com/jeongseonghan/tonemodem/internal/protocol"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParse_Overlay(t *testing.T) {
	data := []byte(`
link:
  symbol_weight: 4
  samples_per_symbol: 2048
  normalization: peak
  preamble: sync_symbol
  ecc_symbols: 4
  correlation_threshold: 0.9
  append_checksum: true
log:
  level: debug
  format: json
server:
  addr: "127.0.0.1:9000"
mqtt:
  enabled: true
  broker: tcp://broker:1883
  qos: 1
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Link.Modem.SymbolWeight)
	assert.Equal(t, 2048, cfg.Link.Modem.SamplesPerSymbol)
	assert.Equal(t, modem.NormalizeByPeak, cfg.Link.Modem.Normalization)
	assert.Equal(t, modem.PreambleSyncSymbol, cfg.Link.Modem.Preamble)
	assert.Equal(t, 4, cfg.Link.ECC.ParitySymbols)
	assert.Equal(t, 0.9, cfg.Link.CorrelationThreshold)
	assert.True(t, cfg.Link.AppendChecksum)

	_, err = protocol.NewReceiver(cfg.Link, nil)
	require.NoError(t, err, "overlaid link must build")

	// untouched fields keep their defaults
	assert.Equal(t, 16, cfg.Link.Modem.SymbolSize)
	assert.Equal(t, 15, cfg.Link.ECC.BlockSize)
	assert.Equal(t, 16000.0, cfg.Link.Modem.SampleRateHz)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, int64(32<<20), cfg.Server.MaxUploadBytes)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "tonemodem", cfg.MQTT.TopicPrefix)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"bad link", "link:\n  symbol_weight: 0\n", modem.ErrInvalidConfig},
		{"too few symbols", "link:\n  symbol_weight: 2\n", modem.ErrInvalidConfig},
		{"sync symbol below floor", "link:\n  preamble: sync_symbol\n", modem.ErrInvalidConfig},
		{"bad normalization", "link:\n  normalization: loud\n", modem.ErrInvalidConfig},
		{"bad level", "log:\n  level: chatty\n", ErrInvalid},
		{"bad format", "log:\n  format: xml\n", ErrInvalid},
		{"bad upload", "server:\n  max_upload_bytes: 0\n", ErrInvalid},
		{"mqtt without broker", "mqtt:\n  enabled: true\n  broker: \"\"\n", ErrInvalid},
		{"mqtt qos", "mqtt:\n  enabled: true\n  qos: 3\n", ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modem.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":7000\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())

	log.Info("hidden")
	log.WithField("component", "test").Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"component":"test"`)

	_, err = NewLogger(LogConfig{Level: "nope"}, &buf)
	assert.True(t, errors.Is(err, ErrInvalid))
}
