package main

import (
	"fmt"
	"io"

	"github.com/jeongseonghan/tonemodem/internal/audio"
)

func runDevices(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("devices", stderr)
	if err := fs.parse(args); err != nil {
		return err
	}

	if err := audio.Init(); err != nil {
		return fmt.Errorf("initialize PortAudio: %w", err)
	}
	defer audio.Terminate()

	devices, err := audio.ListDevices()
	if err != nil {
		return err
	}
	audio.WriteDevices(stdout, devices, audio.HasInputDevice(), audio.HasOutputDevice())
	return nil
}
