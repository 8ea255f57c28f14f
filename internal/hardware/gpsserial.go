package hardware

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"aeras-dispatch/internal/logger"
)

// GPSPort streams raw receiver bytes off a serial line. Reads use a short
// timeout so the control loop can poll it every tick without blocking.
type GPSPort struct {
	log  *logger.Logger
	port serial.Port
}

func OpenGPSPort(device string, baudRate int, log *logger.Logger) (*GPSPort, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", device, err)
	}
	if err := port.SetReadTimeout(20 * time.Millisecond); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("setting read timeout: %w", err)
	}
	log.Infof("GPS receiver on %s at %d baud", device, baudRate)
	return &GPSPort{log: log, port: port}, nil
}

// Read fills buf with whatever arrived since the last call. A timeout with no
// data returns n == 0 and no error.
func (g *GPSPort) Read(buf []byte) (int, error) {
	return g.port.Read(buf)
}

func (g *GPSPort) Close() error {
	return g.port.Close()
}
