package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries everything a unit needs at construction time. Components
// receive it (or a slice of it) by value; nothing reads the environment after
// Load returns.
type Config struct {
	// Broker / identity
	RedisAddr    string
	DeviceID     string
	DriverID     string // operator role
	BlockID      string // requester role
	PresharedKey string

	// Requester destination blocks, cycled by the selector input.
	Destinations []string

	// Peripherals
	GPSPort     string
	GPSBaudRate int
	MetricsPort int

	// Messaging
	HeartbeatInterval time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	QueueCapacity     int
	RetryCeiling      int

	// Positioning
	FixTimeout        time.Duration
	MinUpdateInterval time.Duration
	AvgSamples        int
	AccuracyThreshold float64 // meters, HDOP-derived gate for settlement

	// Ride radii (meters)
	PickupAutoRadius  float64
	PickupMaxRadius   float64
	DropAutoRadius    float64
	AdminReviewRadius float64

	// Points
	BasePoints      float64
	DistanceDivisor float64

	// Operator FSM
	AcceptTimeout  time.Duration
	CompletedDwell time.Duration

	// Presence (ultrasonic)
	PresenceSampleInterval time.Duration
	PresenceDwell          time.Duration
	PresenceMinRangeCm     float64
	PresenceMaxRangeCm     float64
	PresenceToleranceCm    float64

	// Privilege (optical token)
	PrivilegeWindow    time.Duration
	TargetFrequencyHz  float64
	FrequencyTolerance float64
	MinPulses          int
	EdgeThreshold      float64
	DCFilterAlpha      float64
	IdentityBitPeriod  time.Duration

	// Buttons
	DebounceWindow     time.Duration
	DoublePressLockout time.Duration
	HoldTimeout        time.Duration

	// Requester FSM
	ConfirmTimeout  time.Duration
	SendRetryWindow time.Duration
	OfferWindow     time.Duration
	ResultDwell     time.Duration
	ErrorDwell      time.Duration
}

// Load builds a Config from the environment, falling back to the defaults the
// field units shipped with.
func Load() Config {
	return Config{
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		DeviceID:     getEnv("DEVICE_ID", "RU_001"),
		DriverID:     getEnv("DRIVER_ID", "DRIVER_001"),
		BlockID:      getEnv("BLOCK_ID", "CUET_CAMPUS"),
		PresharedKey: getEnv("PRESHARED_KEY", "AERAS_SECRET_KEY_2025"),

		Destinations: getEnvList("DESTINATIONS", []string{"CUET Campus", "Pahartoli", "Noapara", "Raojan"}),

		GPSPort:     getEnv("GPS_PORT", "/dev/ttyS2"),
		GPSBaudRate: getEnvInt("GPS_BAUD", 9600),
		MetricsPort: getEnvInt("METRICS_PORT", 9100),

		HeartbeatInterval: 30 * time.Second,
		BackoffInitial:    time.Second,
		BackoffMax:        32 * time.Second,
		QueueCapacity:     50,
		RetryCeiling:      5,

		FixTimeout:        60 * time.Second,
		MinUpdateInterval: time.Second,
		AvgSamples:        5,
		AccuracyThreshold: 100.0,

		PickupAutoRadius:  20.0,
		PickupMaxRadius:   50.0,
		DropAutoRadius:    50.0,
		AdminReviewRadius: 100.0,

		BasePoints:      10.0,
		DistanceDivisor: 10.0,

		AcceptTimeout:  30 * time.Second,
		CompletedDwell: 5 * time.Second,

		PresenceSampleInterval: 100 * time.Millisecond,
		PresenceDwell:          3 * time.Second,
		PresenceMinRangeCm:     50,
		PresenceMaxRangeCm:     1000,
		PresenceToleranceCm:    5,

		PrivilegeWindow:    time.Second,
		TargetFrequencyHz:  5.0,
		FrequencyTolerance: 0.5,
		MinPulses:          3,
		EdgeThreshold:      2000,
		DCFilterAlpha:      0.9,
		IdentityBitPeriod:  200 * time.Millisecond,

		DebounceWindow:     25 * time.Millisecond,
		DoublePressLockout: 2 * time.Second,
		HoldTimeout:        5 * time.Second,

		ConfirmTimeout:  30 * time.Second,
		SendRetryWindow: 5 * time.Second,
		OfferWindow:     60 * time.Second,
		ResultDwell:     5 * time.Second,
		ErrorDwell:      3 * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
