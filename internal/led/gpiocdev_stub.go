//go:build !linux

package led

import "fmt"

func OpenGPIOCDev(chip string, cfg PeriphConfig) (*Bus, error) {
	return nil, fmt.Errorf("led: gpio character device not supported on this platform")
}
