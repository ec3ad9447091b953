package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jeongseonghan/tonemodem/internal/audio"
	"github.com/jeongseonghan/tonemodem/internal/metrics"
	"github.com/jeongseonghan/tonemodem/internal/pcmfile"
	"github.com/jeongseonghan/tonemodem/internal/protocol"
)

const defaultMaxUpload = 32 << 20

// Player plays a transmission. *audio.Stream satisfies it.
type Player interface {
	Play(ctx context.Context, samples []float64) error
}

// Options holds the optional collaborators of Handlers.
type Options struct {
	Metrics        *metrics.Collector
	Player         Player
	ListDevices    func() ([]audio.DeviceInfo, error)
	MaxUploadBytes int64
	Log            logrus.FieldLogger
}

// Handlers holds the HTTP API handlers.
type Handlers struct {
	cfg       protocol.Config
	tx        *protocol.Transmitter
	rx        *protocol.Receiver
	wsHub     *WSHub
	metrics   *metrics.Collector
	player    Player
	devices   func() ([]audio.DeviceInfo, error)
	maxUpload int64
	log       logrus.FieldLogger

	mu      sync.Mutex
	playing bool
}

// MessageView is the JSON form of a decoded message.
type MessageView struct {
	protocol.Message
	Text string `json:"text"`
}

func viewOf(msgs []protocol.Message) []MessageView {
	out := make([]MessageView, len(msgs))
	for i, m := range msgs {
		out[i] = MessageView{Message: m, Text: m.Text()}
	}
	return out
}

// NewHandlers creates the API handlers around a live receiver. Receiver
// events are forwarded to WebSocket clients; callbacks already set on rx
// are kept.
func NewHandlers(cfg protocol.Config, tx *protocol.Transmitter, rx *protocol.Receiver, opts Options) *Handlers {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.ListDevices == nil {
		opts.ListDevices = audio.ListDevices
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}

	h := &Handlers{
		cfg:       cfg,
		tx:        tx,
		rx:        rx,
		wsHub:     NewWSHub(log),
		metrics:   opts.Metrics,
		player:    opts.Player,
		devices:   opts.ListDevices,
		maxUpload: opts.MaxUploadBytes,
		log:       log.WithField("component", "handlers"),
	}

	prevMsg, prevState, prevOverflow := rx.OnMessage, rx.OnStateChange, rx.OnOverflow
	rx.OnMessage = func(msg protocol.Message) {
		if prevMsg != nil {
			prevMsg(msg)
		}
		h.wsHub.BroadcastMessage(msg)
	}
	rx.OnStateChange = func(state protocol.SyncState, score float64) {
		if prevState != nil {
			prevState(state, score)
		}
		h.wsHub.BroadcastState(state, score)
	}
	rx.OnOverflow = func(dropped int) {
		if prevOverflow != nil {
			prevOverflow(dropped)
		}
		h.wsHub.BroadcastLog("warn", fmt.Sprintf("Message dropped after %d samples", dropped))
	}
	return h
}

// Hub returns the WebSocket hub.
func (h *Handlers) Hub() *WSHub { return h.wsHub }

// HandleWebSocket handles WebSocket upgrade requests.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	h.wsHub.AddClient(conn)

	// Drain client frames until the connection closes.
	go func() {
		defer h.wsHub.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// HandleTransmit builds a transmission for {"text": ...}. The signal is
// returned as a WAV file, or played on the output device when "play" is set.
func (h *Handlers) HandleTransmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Text string `json:"text"`
		Play bool   `json:"play"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUpload)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Parse request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "Text required", http.StatusBadRequest)
		return
	}

	signal, err := h.tx.TransmitString(req.Text)
	if err != nil {
		http.Error(w, fmt.Sprintf("Transmit: %v", err), http.StatusInternalServerError)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveTransmission(len(signal))
	}
	duration := h.tx.Duration(len(signal))

	if req.Play {
		if h.player == nil {
			http.Error(w, "No output device", http.StatusServiceUnavailable)
			return
		}
		if !h.startPlayback() {
			http.Error(w, "Playback in progress", http.StatusConflict)
			return
		}
		go func() {
			defer h.endPlayback()
			h.wsHub.BroadcastStatus("playing", fmt.Sprintf("Transmitting %d bytes", len(req.Text)))
			if err := h.player.Play(context.Background(), signal); err != nil {
				h.log.WithError(err).Error("Playback failed")
				h.wsHub.BroadcastStatus("error", fmt.Sprintf("Playback failed: %v", err))
				return
			}
			h.wsHub.BroadcastStatus("completed", "Transmission played")
		}()

		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":   "playing",
			"samples":  len(signal),
			"duration": duration.Seconds(),
		})
		return
	}

	data, err := pcmfile.WAVBytes(signal, int(h.cfg.Modem.SampleRateHz))
	if err != nil {
		http.Error(w, fmt.Sprintf("Encode WAV: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="transmission.wav"`)
	w.Write(data)
}

// HandleReceive decodes every message in an uploaded recording. The
// recording is processed by a fresh receiver, leaving the live one alone.
func (h *Handlers) HandleReceive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		http.Error(w, fmt.Sprintf("Parse form: %v", err), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("Get file: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	format, err := pcmfile.FormatFromName(header.Filename)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}
	recording, err := pcmfile.Decode(file, format)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, pcmfile.ErrUnsupportedFormat) {
			status = http.StatusUnsupportedMediaType
		}
		http.Error(w, fmt.Sprintf("Decode %s: %v", header.Filename, err), status)
		return
	}

	rx, err := protocol.NewReceiver(h.cfg, h.log)
	if err != nil {
		http.Error(w, fmt.Sprintf("Receiver: %v", err), http.StatusInternalServerError)
		return
	}
	rx.ReceiveBuffer(recording.At(int(h.cfg.Modem.SampleRateHz)))

	// Sync gauges describe the live receiver, so uploads only count messages.
	msgs := rx.History()
	for _, m := range msgs {
		if h.metrics != nil {
			h.metrics.ObserveMessage(m)
		}
		h.wsHub.BroadcastMessage(m)
	}
	h.log.WithFields(logrus.Fields{
		"file":     header.Filename,
		"rate":     recording.SampleRate,
		"seconds":  recording.Duration(),
		"messages": len(msgs),
	}).Info("Recording decoded")

	writeJSON(w, http.StatusOK, map[string]any{
		"file":        header.Filename,
		"sample_rate": recording.SampleRate,
		"duration":    recording.Duration(),
		"messages":    viewOf(msgs),
	})
}

// HandleHistory lists (GET) or clears (DELETE) the live receiver history.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"messages": viewOf(h.rx.History()),
		})
	case http.MethodDelete:
		h.rx.ClearHistory()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleStatus returns the live receiver state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	raw, erasures := h.rx.CurrentData()
	h.mu.Lock()
	playing := h.playing
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"state":            h.rx.State().String(),
		"synchronized":     h.rx.IsSynchronized(),
		"sync_score":       h.rx.SyncScore(),
		"pending_bytes":    len(raw),
		"pending_erasures": len(erasures),
		"history":          len(h.rx.History()),
		"clients":          h.wsHub.Clients(),
		"playing":          playing,
	})
}

// HandleDevices lists available audio devices.
func (h *Handlers) HandleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices()
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	hasInput, hasOutput := false, false
	for _, d := range devices {
		hasInput = hasInput || d.MaxInputChannels > 0
		hasOutput = hasOutput || d.MaxOutputChannels > 0
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"devices":   devices,
		"hasInput":  hasInput,
		"hasOutput": hasOutput,
	})
}

func (h *Handlers) startPlayback() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.playing {
		return false
	}
	h.playing = true
	return true
}

func (h *Handlers) endPlayback() {
	h.mu.Lock()
	h.playing = false
	h.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
