package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/jeongseonghan/tonemodem/internal/audio"
	"github.com/jeongseonghan/tonemodem/internal/modem"
	"github.com/jeongseonghan/tonemodem/internal/pcmfile"
	"github.com/jeongseonghan/tonemodem/internal/protocol"
)

func runTransmit(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("transmit", stderr)
	text := fs.StringP("text", "t", "", "Text payload")
	input := fs.StringP("file", "f", "", "Read the payload from a file ('-' for stdin)")
	output := fs.StringP("output", "o", "", "Write the transmission to a WAV file")
	pcmOut := fs.String("pcm", "", "Write the transmission as raw 16-bit little-endian PCM")
	play := fs.Bool("play", false, "Play the transmission on the default output device")
	if err := fs.parse(args); err != nil {
		return err
	}

	payload, err := readPayload(*text, *input)
	if err != nil {
		return err
	}
	if *output == "" && *pcmOut == "" && !*play {
		return usageError("one of --output, --pcm or --play is required")
	}

	cfg, log, err := fs.load(stderr)
	if err != nil {
		return err
	}
	tx, err := protocol.NewTransmitter(cfg.Link, log)
	if err != nil {
		return err
	}

	samples, err := tx.Transmit(payload)
	if err != nil {
		return err
	}
	rate := int(cfg.Link.Modem.SampleRateHz)
	log.WithFields(logrus.Fields{
		"bytes":    len(payload),
		"samples":  len(samples),
		"duration": tx.Duration(len(samples)),
	}).Info("Transmission ready")

	if *output != "" {
		if err := pcmfile.WriteWAVFile(*output, samples, rate); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s (%d samples, %s)\n", *output, len(samples), tx.Duration(len(samples)))
	}
	if *pcmOut != "" {
		if err := os.WriteFile(*pcmOut, modem.SignalToPCM(samples), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", *pcmOut, err)
		}
		fmt.Fprintf(stdout, "wrote %s (%d bytes)\n", *pcmOut, 2*len(samples))
	}
	if *play {
		return playSignal(cfg.Audio.FramesPerBuffer, float64(rate), samples, log)
	}
	return nil
}

func readPayload(text, path string) ([]byte, error) {
	switch {
	case text != "" && path != "":
		return nil, usageError("--text and --file are mutually exclusive")
	case text != "":
		return []byte(text), nil
	case path == "-":
		return io.ReadAll(os.Stdin)
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		return data, nil
	default:
		return nil, usageError("--text or --file is required")
	}
}

func playSignal(frames int, rate float64, samples []float64, log logrus.FieldLogger) error {
	if err := audio.Init(); err != nil {
		return fmt.Errorf("initialize PortAudio: %w", err)
	}
	defer audio.Terminate()
	if !audio.HasOutputDevice() {
		return fmt.Errorf("no default output device")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return audio.NewStream(rate, frames, log).Play(ctx, samples)
}
