// Command ledsignctl drives the sign from a host, over USB or through a
// running ledsign daemon.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/coreman2200/funtimes-ledsign"
	"github.com/coreman2200/funtimes-ledsign/internal/imageload"
	"github.com/coreman2200/funtimes-ledsign/internal/mbi5029"
	"github.com/coreman2200/funtimes-ledsign/internal/panel"
)

// Link is a connection to the sign.
type Link interface {
	Request(req ledsign.Request, value uint16) error
	// Reset rewinds the write cursor, ordered with the writes after it.
	Reset() error
	Write(p []byte) error
	TTY(s string) (string, error)
	Close() error
}

const usage = `usage: ledsignctl [flags] command [args]

commands:
  reset               rewind the write cursor
  on | off            start or stop the scan
  bright N            brightness 0..255
  special on|off      driver special mode
  config CODE         write the driver configuration word
  gain                print the current gain of every configuration code
  image FILE          show a PNG, GIF, JPEG or SVG file
  movie FILE          play raw 8-bit gray frames
  tty STRING          send terminal protocol characters

flags:
`

type options struct {
	width, height int
	fit           bool
	interval      time.Duration
	out           io.Writer
}

func main() {
	var (
		transport = flag.String("transport", "usb", "usb | ws")
		url       = flag.String("url", "ws://localhost:8080", "daemon address for -transport ws")
		altID     = flag.Bool("alt-id", false, "use the alternate USB vendor and product id")
		width     = flag.IntP("width", "W", ledsign.DefaultWidth, "width in pixels")
		height    = flag.IntP("height", "H", ledsign.DefaultHeight, "height in pixels")
		fit       = flag.Bool("fit", false, "scale images to the panel instead of cropping")
		interval  = flag.Duration("interval", 50*time.Millisecond, "movie frame interval")
		verbose   = flag.BoolP("verbose", "v", false, "debug logging")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	opts := options{width: *width, height: *height, fit: *fit, interval: *interval, out: os.Stdout}

	if args[0] == "gain" {
		printGain(os.Stdout)
		return
	}

	var (
		l   Link
		err error
	)
	switch *transport {
	case "usb":
		vid, pid := ledsign.VendorID, ledsign.ProductID
		if *altID {
			vid, pid = ledsign.AltVendorID, ledsign.AltProductID
		}
		l, err = openUSB(vid, pid)
	case "ws":
		l = openWS(*url)
	default:
		err = fmt.Errorf("unknown transport %q", *transport)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("ledsignctl")
	}
	err = run(l, opts, args)
	if cerr := l.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("close")
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("ledsignctl")
	}
}

var errUsage = errors.New("bad arguments")

func run(l Link, opts options, args []string) error {
	cmd, rest := args[0], args[1:]
	arg := func() (string, error) {
		if len(rest) != 1 {
			return "", fmt.Errorf("%w: %s takes one argument", errUsage, cmd)
		}
		return rest[0], nil
	}

	switch cmd {
	case "reset":
		return l.Reset()

	case "on", "off":
		return l.Request(ledsign.PanelOnOff, onOff(cmd == "on"))

	case "bright":
		s, err := arg()
		if err != nil {
			return err
		}
		n, err := strconv.ParseUint(s, 0, 8)
		if err != nil {
			return fmt.Errorf("%w: brightness %q", errUsage, s)
		}
		return l.Request(ledsign.PanelBrightness, uint16(n))

	case "special":
		s, err := arg()
		if err != nil {
			return err
		}
		if s != "on" && s != "off" {
			return fmt.Errorf("%w: special on|off", errUsage)
		}
		return l.Request(ledsign.DriverSpecialMode, onOff(s == "on"))

	case "config":
		s, err := arg()
		if err != nil {
			return err
		}
		code, err := strconv.ParseUint(s, 0, 16)
		if err != nil {
			return fmt.Errorf("%w: code %q", errUsage, s)
		}
		return l.Request(ledsign.DriverConfig, uint16(code))

	case "image":
		name, err := arg()
		if err != nil {
			return err
		}
		return showImage(l, opts, name)

	case "movie":
		name, err := arg()
		if err != nil {
			return err
		}
		return playMovie(l, opts, name)

	case "tty":
		s, err := arg()
		if err != nil {
			return err
		}
		reply, err := l.TTY(s)
		if err != nil {
			return err
		}
		fmt.Fprint(opts.out, reply)
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func (o options) geometry() panel.Geometry {
	g := panel.Default()
	g.Width, g.Height = o.width, o.height
	return g
}

func showImage(l Link, opts options, name string) error {
	img, err := imageload.LoadFile(name, opts.width, opts.height)
	if err != nil {
		return err
	}
	if opts.fit {
		img = imageload.Fit(img, opts.width, opts.height)
	}
	buf, err := imageload.Pack(opts.geometry(), img)
	if err != nil {
		return err
	}
	if err := l.Reset(); err != nil {
		return err
	}
	return l.Write(buf)
}

// playMovie writes every frame of a raw movie after a single cursor reset;
// the cursor wraps at the end of each frame.
func playMovie(l Link, opts options, name string) error {
	raw, err := os.ReadFile(name)
	if err != nil {
		return err
	}
	frames, err := imageload.Frames(opts.geometry(), raw)
	if err != nil {
		return err
	}
	if err := l.Reset(); err != nil {
		return err
	}
	for i, f := range frames {
		if err := l.Write(f); err != nil {
			return err
		}
		fmt.Fprintln(opts.out, i)
		time.Sleep(opts.interval)
	}
	return nil
}

// printGain lists the current gain of every configuration code: bit 6 is
// the high-current range, bits 0..5 the fine step.
func printGain(w io.Writer) {
	fmt.Fprintln(w, "code  gain")
	for code := uint16(0); code < 128; code++ {
		fmt.Fprintf(w, "0x%02x  %.3f\n", code, mbi5029.Gain(code))
	}
}

func onOff(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
