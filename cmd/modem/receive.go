package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeongseonghan/tonemodem/internal/audio"
	"github.com/jeongseonghan/tonemodem/internal/mqtt"
	"github.com/jeongseonghan/tonemodem/internal/pcmfile"
	"github.com/jeongseonghan/tonemodem/internal/protocol"
)

const defaultChunk = 4096

func runReceive(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("receive", stderr)
	live := fs.Bool("live", false, "Capture from the default input device")
	duration := fs.Duration("duration", 0, "Stop live capture after this long (0 = until interrupted)")
	chunk := fs.Int("chunk", defaultChunk, "Samples per buffer when reading files")
	asJSON := fs.Bool("json", false, "Print messages as JSON lines")
	if err := fs.parse(args); err != nil {
		return err
	}
	files := fs.Args()
	if *live == (len(files) > 0) {
		return usageError("give recording files or --live, not both")
	}
	if *chunk <= 0 {
		return usageError("--chunk must be positive")
	}

	cfg, log, err := fs.load(stderr)
	if err != nil {
		return err
	}
	rx, err := protocol.NewReceiver(cfg.Link, log)
	if err != nil {
		return err
	}
	rx.OnMessage = func(msg protocol.Message) {
		printMessage(stdout, msg, *asJSON)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MQTT.Enabled {
		pub, err := mqtt.NewPublisher(cfg.MQTT, nil, log)
		if err != nil {
			return err
		}
		defer pub.Disconnect()
		pub.Attach(rx)
		if *live {
			pub.StartStatus(ctx, rx)
		}
	}

	if *live {
		if *duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, *duration)
			defer cancel()
		}
		return captureLive(ctx, cfg.Audio.FramesPerBuffer, cfg.Link.Modem.SampleRateHz, rx, log)
	}

	rate := int(cfg.Link.Modem.SampleRateHz)
	for _, path := range files {
		if err := receiveFile(rx, path, rate, *chunk, log); err != nil {
			return err
		}
	}
	return nil
}

func receiveFile(rx *protocol.Receiver, path string, rate, chunk int, log logrus.FieldLogger) error {
	recording, err := pcmfile.DecodeFile(path)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"file":    path,
		"rate":    recording.SampleRate,
		"seconds": recording.Duration(),
	}).Info("Decoding recording")

	rx.Reset()
	samples := recording.At(rate)
	for pos := 0; pos < len(samples); pos += chunk {
		rx.ReceiveBuffer(samples[pos:min(pos+chunk, len(samples))])
	}
	if rx.IsSynchronized() {
		log.WithField("file", path).Warn("Recording ended inside a message")
	}
	return nil
}

func captureLive(ctx context.Context, frames int, rate float64, rx *protocol.Receiver, log logrus.FieldLogger) error {
	if err := audio.Init(); err != nil {
		return fmt.Errorf("initialize PortAudio: %w", err)
	}
	defer audio.Terminate()
	if !audio.HasInputDevice() {
		return fmt.Errorf("no default input device")
	}

	start := time.Now()
	err := audio.NewStream(rate, frames, log).Capture(ctx, rx)
	log.WithFields(logrus.Fields{
		"elapsed":  time.Since(start).Round(time.Second),
		"messages": len(rx.History()),
	}).Info("Capture finished")
	return err
}

func printMessage(w io.Writer, msg protocol.Message, asJSON bool) {
	if asJSON {
		data, err := json.Marshal(mqtt.NewMessagePayload(msg))
		if err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
			return
		}
		fmt.Fprintln(w, string(data))
		return
	}

	status := "ok"
	if !msg.Valid {
		status = "INVALID"
	}
	var notes []string
	if n := len(msg.Erasures); n > 0 {
		notes = append(notes, fmt.Sprintf("%d erasures", n))
	}
	if n := len(msg.Corrected); n > 0 {
		notes = append(notes, fmt.Sprintf("%d corrected", n))
	}
	suffix := ""
	if len(notes) > 0 {
		suffix = " (" + strings.Join(notes, ", ") + ")"
	}
	fmt.Fprintf(w, "[%s %s] %q%s\n", msg.Pass, status, msg.Text(), suffix)
}
