package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// NewRealSerialMux opens the bridge board's serial port at path with the
// given options.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return NewSerialMux[serial.Port](port), nil
}

// ListPorts returns the serial ports the OS knows about, for the startup log.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
