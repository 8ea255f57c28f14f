package hardware

import (
	"fmt"
	"os"
)

// IIOLightSensor reads raw ADC counts from an industrial-IO voltage channel.
// It satisfies the fusion light-sensor contract.
type IIOLightSensor struct {
	device  string
	channel int
}

func NewIIOLightSensor(device string, channel int) *IIOLightSensor {
	return &IIOLightSensor{device: device, channel: channel}
}

func (s *IIOLightSensor) ReadRaw() (float64, error) {
	path := fmt.Sprintf("/sys/bus/iio/devices/%s/in_voltage%d_raw", s.device, s.channel)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed reading %s: %w", path, err)
	}
	var value int
	if _, err := fmt.Sscanf(string(data), "%d", &value); err != nil {
		return 0, fmt.Errorf("failed parsing ADC value: %w", err)
	}
	return float64(value), nil
}
