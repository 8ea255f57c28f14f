package hardware

const (
	GpioChip = "gpiochip0"

	// Operator console buttons
	PinAcceptButton = 17
	PinRejectButton = 27
	PinPickupButton = 22
	PinDropButton   = 23

	// Requester kiosk buttons
	PinRequestButton     = 17
	PinDestinationButton = 27

	// Indicator outputs
	PinOfferLed  = 5
	PinActiveLed = 6
	PinErrorLed  = 13

	// Ultrasonic ranger
	PinUltrasonicTrig = 24
	PinUltrasonicEcho = 25

	BuzzerPwmChip    = "/sys/class/pwm/pwmchip0"
	BuzzerPwmChannel = 0

	LightSensorIIODevice = "iio:device0"
	LightSensorChannel   = 0
)

// OperatorButtons maps console button names to GPIO lines.
var OperatorButtons = map[string]int{
	"accept": PinAcceptButton,
	"reject": PinRejectButton,
	"pickup": PinPickupButton,
	"drop":   PinDropButton,
}

// RequesterButtons maps kiosk button names to GPIO lines.
var RequesterButtons = map[string]int{
	"request":     PinRequestButton,
	"destination": PinDestinationButton,
}

// IndicatorPins maps indicator names to GPIO lines.
var IndicatorPins = map[string]int{
	"offer":  PinOfferLed,
	"active": PinActiveLed,
	"error":  PinErrorLed,
}
