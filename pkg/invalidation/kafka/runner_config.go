package kafka

import (
	"strings"
	"time"
)

type Driver string

const (
	DriverNone   Driver = "none"
	DriverDirect Driver = "direct"
	DriverKafka  Driver = "kafka"
)

type Config struct {
	Enabled bool
	Driver  Driver

	Brokers []string
	Topic   string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
}

// NewConfig fills the consumer timings with defaults. brokers is a comma
// separated list.
func NewConfig(enabled bool, driver, brokers, topic, group string) Config {
	d := Driver(strings.ToLower(strings.TrimSpace(driver)))
	if d == "" {
		d = DriverNone
	}
	return Config{
		Enabled:          enabled,
		Driver:           d,
		Brokers:          Split(brokers),
		Topic:            topic,
		GroupID:          group,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		InitialOldest:    true,
	}
}

func Split(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
