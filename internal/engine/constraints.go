package engine

import (
	"context"
	"net"
	"time"
)

// ConstraintChecker decides whether work may run now. When it may not, the
// returned reason names the first unmet precondition.
type ConstraintChecker interface {
	Check(ctx context.Context, c Constraints) (ok bool, reason string)
}

// NetworkProbe reports network connectivity
type NetworkProbe interface {
	Connected(ctx context.Context) bool
}

// StorageProbe reports whether free storage is below the configured floor
type StorageProbe interface {
	StorageLow() (bool, error)
}

// PowerProbe reports the power state of the host
type PowerProbe interface {
	Charging() bool
	BatteryLow() bool
	Idle() bool
}

// DeviceChecker evaluates constraints against host probes. A nil probe
// treats its constraint as satisfied.
type DeviceChecker struct {
	Network NetworkProbe
	Storage StorageProbe
	Power   PowerProbe
}

// NewDeviceChecker builds the probes described by config
func NewDeviceChecker(config Config) *DeviceChecker {
	c := &DeviceChecker{
		Power: MainsPower{},
	}
	if config.NetworkProbeAddress != "" {
		c.Network = &TCPProbe{Address: config.NetworkProbeAddress, Timeout: config.NetworkProbeTimeout}
	}
	if config.StoragePath != "" {
		c.Storage = &StatfsProbe{Path: config.StoragePath, MinFreeBytes: config.MinFreeStorageBytes}
	}
	return c
}

func (c *DeviceChecker) Check(ctx context.Context, cons Constraints) (bool, string) {
	if cons.RequiredNetwork == NetworkConnected && c.Network != nil && !c.Network.Connected(ctx) {
		return false, "network not connected"
	}

	if cons.RequiresStorageNotLow && c.Storage != nil {
		low, err := c.Storage.StorageLow()
		if err != nil {
			return false, "storage check failed: " + err.Error()
		}
		if low {
			return false, "storage low"
		}
	}

	if c.Power != nil {
		if cons.RequiresCharging && !c.Power.Charging() {
			return false, "not charging"
		}
		if cons.RequiresBatteryNotLow && c.Power.BatteryLow() {
			return false, "battery low"
		}
		if cons.RequiresDeviceIdle && !c.Power.Idle() {
			return false, "device not idle"
		}
	}

	return true, ""
}

// TCPProbe considers the network connected when Address accepts a TCP connection
type TCPProbe struct {
	Address string
	Timeout time.Duration
}

func (p *TCPProbe) Connected(ctx context.Context) bool {
	dialer := net.Dialer{Timeout: p.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// MainsPower describes a host without a battery
type MainsPower struct{}

func (MainsPower) Charging() bool   { return true }
func (MainsPower) BatteryLow() bool { return false }
func (MainsPower) Idle() bool       { return true }

// AllowAll satisfies every constraint
type AllowAll struct{}

func (AllowAll) Check(context.Context, Constraints) (bool, string) { return true, "" }
