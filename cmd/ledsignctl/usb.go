package main

import (
	"errors"
	"fmt"

	"github.com/google/gousb"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/funtimes-ledsign"
	"github.com/coreman2200/funtimes-ledsign/internal/imageload"
)

// usbLink talks to the sign's vendor interface directly.
type usbLink struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	done func()
	out  *gousb.OutEndpoint
}

func openUSB(vid, pid uint16) (*usbLink, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err == nil && dev == nil {
		err = fmt.Errorf("no device %04x:%04x", vid, pid)
	}
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("usb: %w", err)
	}
	if err := dev.SetAutoDetach(true); err != nil {
		log.Debug().Err(err).Msg("usb: auto detach")
	}
	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usb: claim interface: %w", err)
	}
	out, err := intf.OutEndpoint(ledsign.BulkEndpoint)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usb: endpoint %#x: %w", ledsign.BulkEndpoint, err)
	}
	log.Debug().Stringer("device", dev).Msg("usb: opened")
	return &usbLink{ctx: ctx, dev: dev, done: done, out: out}, nil
}

func (u *usbLink) Request(req ledsign.Request, value uint16) error {
	if _, err := u.dev.Control(ledsign.RequestTypeOut, uint8(req), value, 0, nil); err != nil {
		return fmt.Errorf("usb: %s: %w", req, err)
	}
	return nil
}

func (u *usbLink) Reset() error {
	return u.Request(ledsign.ResetWritePointer, 0)
}

func (u *usbLink) Write(p []byte) error {
	for _, c := range imageload.Chunks(p, ledsign.PacketSize) {
		if _, err := u.out.Write(c); err != nil {
			return fmt.Errorf("usb: bulk write: %w", err)
		}
	}
	return nil
}

func (u *usbLink) TTY(string) (string, error) {
	return "", errors.New("usb: the terminal protocol needs the ws transport")
}

func (u *usbLink) Close() error {
	u.done()
	err := u.dev.Close()
	return errors.Join(err, u.ctx.Close())
}
