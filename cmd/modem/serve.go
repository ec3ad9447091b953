package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jeongseonghan/tonemodem/internal/audio"
	"github.com/jeongseonghan/tonemodem/internal/metrics"
	"github.com/jeongseonghan/tonemodem/internal/mqtt"
	"github.com/jeongseonghan/tonemodem/internal/protocol"
	"github.com/jeongseonghan/tonemodem/internal/server"
)

func runServe(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("serve", stderr)
	addr := fs.String("addr", "", "Listen address (overrides server.addr)")
	static := fs.String("static", "", "Directory of static files served at /")
	noAudio := fs.Bool("no-audio", false, "Do not open sound devices")
	if err := fs.parse(args); err != nil {
		return err
	}

	cfg, log, err := fs.load(stderr)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	tx, err := protocol.NewTransmitter(cfg.Link, log)
	if err != nil {
		return err
	}
	rx, err := protocol.NewReceiver(cfg.Link, log)
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	if cfg.Server.Metrics {
		collector = metrics.New()
		collector.Attach(rx)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MQTT.Enabled {
		pub, err := mqtt.NewPublisher(cfg.MQTT, collector, log)
		if err != nil {
			return err
		}
		defer pub.Disconnect()
		pub.Attach(rx)
		pub.StartStatus(ctx, rx)
	}

	opts := server.Options{
		Metrics:        collector,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Log:            log,
	}
	var stream *audio.Stream
	hasInput := false
	if !*noAudio {
		if err := audio.Init(); err != nil {
			log.WithError(err).Warn("PortAudio unavailable, sound devices disabled")
		} else {
			defer audio.Terminate()
			stream = audio.NewStream(cfg.Link.Modem.SampleRateHz, cfg.Audio.FramesPerBuffer, log)
			if audio.HasOutputDevice() {
				opts.Player = stream
			}
			hasInput = audio.HasInputDevice()
		}
	}
	if stream == nil {
		opts.ListDevices = func() ([]audio.DeviceInfo, error) {
			return nil, errors.New("sound devices disabled")
		}
	}

	handlers := server.NewHandlers(cfg.Link, tx, rx, opts)
	srv := server.NewServer(cfg.Server.Addr, handlers, *static, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	if hasInput {
		g.Go(func() error { return stream.Capture(gctx, rx) })
	} else {
		log.Warn("No input device, live receive disabled")
	}

	log.WithFields(logrus.Fields{
		"addr":    cfg.Server.Addr,
		"capture": hasInput,
		"play":    opts.Player != nil,
		"metrics": collector != nil,
		"mqtt":    cfg.MQTT.Enabled,
	}).Info("Modem server running")
	return g.Wait()
}
