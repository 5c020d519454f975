package vpn

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var (
	ErrVPNNotConnected = errors.New("VPN not connected")
	ErrVPNConnectFail  = errors.New("failed to connect VPN")
)

type Config struct {
	ActivationCode string
	AutoConnect    bool
	Region         string
}

// Runner executes expressvpnctl and returns its combined output.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

func execRunner(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "expressvpnctl", args...).Output()
}

type ExpressVPN struct {
	cfg  Config
	run  Runner
	poll time.Duration
	wait int
}

func NewExpressVPN(cfg Config) *ExpressVPN {
	return &ExpressVPN{cfg: cfg, run: execRunner, poll: time.Second, wait: 30}
}

// WithRunner swaps the command runner.
func (v *ExpressVPN) WithRunner(r Runner) *ExpressVPN {
	v.run = r
	return v
}

func (v *ExpressVPN) IsConnected(ctx context.Context) bool {
	out, err := v.run(ctx, "status")
	if err != nil {
		return false
	}
	status := strings.ToLower(string(out))
	if strings.Contains(status, "disconnected") || strings.Contains(status, "not connected") {
		return false
	}
	return strings.Contains(status, "connected")
}

// EnsureConnected is the pre-flight run before any browser starts. Without
// AutoConnect a disconnected tunnel is an error rather than a connect attempt.
func (v *ExpressVPN) EnsureConnected(ctx context.Context) error {
	if v.IsConnected(ctx) {
		return nil
	}
	if !v.cfg.AutoConnect {
		return ErrVPNNotConnected
	}

	region := v.cfg.Region
	if region == "" {
		region = "smart"
	}
	if _, err := v.run(ctx, "connect", region); err != nil {
		return fmt.Errorf("%w: %v", ErrVPNConnectFail, err)
	}

	for i := 0; i < v.wait; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(v.poll):
		}
		if v.IsConnected(ctx) {
			return nil
		}
	}
	return ErrVPNConnectFail
}

func (v *ExpressVPN) Status(ctx context.Context) (string, error) {
	out, err := v.run(ctx, "status")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
