// Package ledsign holds the constants shared by the scan engine, the host
// link and the host tool of a multiplexed MBI5029 dot-matrix sign.
package ledsign

import (
	"strconv"

	"periph.io/x/conn/v3/physic"
)

const (
	DefaultWidth      int = 40
	DefaultHeight     int = 20
	DefaultModules    int = 1
	RowGroups         int = 8 // 3-bit row address bus
	TimerPeriod       int = 1000
	DefaultBrightness int = 64 // about 25%
	MaxBrightness     int = 256

	// Refresh is the full-frame rate; the scan ticks RowGroups times per frame.
	Refresh physic.Frequency = 250 * physic.Hertz

	DefaultSPISpeed physic.Frequency = 1125 * physic.KiloHertz
)

// USB identity and endpoints of the sign's host link.
const (
	VendorID       uint16 = 0x0483
	ProductID      uint16 = 0x5740
	AltVendorID    uint16 = 0x4e65
	AltProductID   uint16 = 0x7264
	BulkEndpoint   int    = 0x01
	PacketSize     int    = 64
	RequestTypeOut uint8  = 0x40 // vendor, host to device
)

// Request is a vendor control request code.
type Request uint8

const (
	ResetWritePointer Request = iota
	PanelOnOff
	PanelBrightness
	DriverSpecialMode
	DriverConfig
)

func (r Request) String() string {
	switch r {
	case ResetWritePointer:
		return "ResetWritePointer"
	case PanelOnOff:
		return "PanelOnOff"
	case PanelBrightness:
		return "PanelBrightness"
	case DriverSpecialMode:
		return "DriverSpecialMode"
	case DriverConfig:
		return "DriverConfig"
	}
	return "Request(" + strconv.Itoa(int(r)) + ")"
}

// ScanFrequency is the row-step rate of the scan timer.
func ScanFrequency() physic.Frequency {
	return Refresh * physic.Frequency(RowGroups)
}
