// Package link is the host side of the sign: vendor requests, the bulk
// framebuffer write path, the character terminal protocol and the network
// server that carries them.
package link

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/coreman2200/funtimes-ledsign"
	diag "github.com/coreman2200/funtimes-ledsign/internal/diagnostics"
)

var (
	ErrUnknownRequest = errors.New("link: unknown request")
	ErrValue          = errors.New("link: request value out of range")
)

// Panel starts and stops the scan. *scan.Controller implements it.
type Panel interface {
	Start() error
	Stop() error
	Armed() bool
}

// Driver is the driver chain. *mbi5029.Dev implements it.
type Driver interface {
	SetBrightness(level int) error
	Brightness() int
	SetMode(special bool) error
	WriteConfig(code uint16) error
}

// Dispatcher maps vendor requests onto the panel, the driver chain and the
// write cursor.
type Dispatcher struct {
	Panel  Panel
	Driver Driver
	Writer *Writer
	Diag   diag.Sink

	// OnBrightness is called after a successful brightness change.
	OnBrightness func(level int)
}

// Handle executes one request. Unknown requests never reach the panel.
func (d *Dispatcher) Handle(req ledsign.Request, value uint16) error {
	err := d.handle(req, value)
	switch {
	case errors.Is(err, ErrUnknownRequest):
		d.push(diag.Diagnostic{
			Severity: diag.Warn, Code: diag.LinkUnknown, Summary: "Unknown vendor request",
			Evidence: map[string]any{"request": int(req), "value": value},
		})
	case errors.Is(err, ErrValue):
		d.push(diag.Diagnostic{
			Severity: diag.Warn, Code: diag.LinkBadValue, Summary: "Request value out of range",
			Detail:   req.String(),
			Evidence: map[string]any{"request": int(req), "value": value},
		})
	case err != nil:
		log.Error().Err(err).Stringer("request", req).Uint16("value", value).Msg("link: request failed")
	default:
		log.Debug().Stringer("request", req).Uint16("value", value).Msg("link: request")
	}
	return err
}

func (d *Dispatcher) handle(req ledsign.Request, value uint16) error {
	switch req {
	case ledsign.ResetWritePointer:
		d.Writer.Reset()
		return nil

	case ledsign.PanelOnOff:
		on, err := boolValue(req, value)
		if err != nil {
			return err
		}
		if on {
			err = d.Panel.Start()
		} else {
			err = d.Panel.Stop()
		}
		if err != nil {
			return err
		}
		code := diag.ScanStopped
		if on {
			code = diag.ScanStarted
		}
		d.push(diag.Diagnostic{Severity: diag.Info, Code: code, Summary: "Panel switched"})
		return nil

	case ledsign.PanelBrightness:
		if value > 255 {
			return fmt.Errorf("%w: brightness %d", ErrValue, value)
		}
		if err := d.Driver.SetBrightness(int(value)); err != nil {
			return err
		}
		if d.OnBrightness != nil {
			d.OnBrightness(int(value))
		}
		return nil

	case ledsign.DriverSpecialMode:
		special, err := boolValue(req, value)
		if err != nil {
			return err
		}
		if err := d.Driver.SetMode(special); err != nil {
			return err
		}
		d.push(diag.Diagnostic{
			Severity: diag.Info, Code: diag.DriverMode, Summary: "Driver mode switched",
			Evidence: map[string]any{"special": special, "scanning": d.Panel.Armed()},
		})
		return nil

	case ledsign.DriverConfig:
		if err := d.Driver.WriteConfig(value); err != nil {
			return err
		}
		d.push(diag.Diagnostic{
			Severity: diag.Info, Code: diag.DriverConfig, Summary: "Driver configuration written",
			Evidence: map[string]any{"code": value},
		})
		return nil
	}
	return fmt.Errorf("%w: %d", ErrUnknownRequest, int(req))
}

func (d *Dispatcher) push(e diag.Diagnostic) {
	if d.Diag != nil {
		d.Diag.Push(e)
	}
}

func boolValue(req ledsign.Request, v uint16) (bool, error) {
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("%w: %s %d", ErrValue, req, v)
}
