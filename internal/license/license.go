// internal/license/license.go
package license

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/keygen-sh/keygen-go/v3"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launch-guard/internal/config"
)

var (
	ErrMissingKey = errors.New("license key is required")
	ErrExpired    = errors.New("license has expired")
	ErrInvalid    = errors.New("license is not valid")
)

const minKeyLength = 8

// Checker validates the operator license at startup and keeps the machine
// activation alive with periodic heartbeats.
type Checker struct {
	key    string
	cfg    config.KeygenConfig
	logger *zap.Logger

	fingerprint func() (string, error)
	validate    func(ctx context.Context, fingerprint string) (*keygen.License, error)
	activate    func(ctx context.Context, lic *keygen.License, fingerprint string) (*keygen.Machine, error)
}

func NewChecker(key string, cfg config.KeygenConfig, logger *zap.Logger) *Checker {
	c := &Checker{
		key:         key,
		cfg:         cfg,
		logger:      logger.Named("license"),
		fingerprint: machineFingerprint,
		validate: func(ctx context.Context, fp string) (*keygen.License, error) {
			return keygen.Validate(ctx, fp)
		},
		activate: func(ctx context.Context, lic *keygen.License, fp string) (*keygen.Machine, error) {
			return lic.Activate(ctx, fp)
		},
	}
	if cfg.Enabled() {
		keygen.Account = cfg.AccountID
		keygen.Product = cfg.ProductID
		keygen.Token = cfg.ProductToken
		keygen.LicenseKey = key
	}
	return c
}

// Check validates the key. Without keygen credentials only the key shape is
// checked, and an empty key disables licensing.
func (c *Checker) Check(ctx context.Context) error {
	if !c.cfg.Enabled() {
		if c.key == "" {
			c.logger.Info("Licensing disabled")
			return nil
		}
		if len(c.key) < minKeyLength {
			return fmt.Errorf("%w: key too short", ErrInvalid)
		}
		c.logger.Info("License accepted (offline mode)", zap.String("key", mask(c.key)))
		return nil
	}

	if c.key == "" {
		return ErrMissingKey
	}
	c.logger.Info("Validating license", zap.String("key", mask(c.key)))

	fp, err := c.fingerprint()
	if err != nil {
		return fmt.Errorf("machine fingerprint: %w", err)
	}

	lic, err := c.validate(ctx, fp)
	switch {
	case errors.Is(err, keygen.ErrLicenseNotActivated):
		if lic == nil {
			return fmt.Errorf("%w: activation needs a license", ErrInvalid)
		}
		c.logger.Info("License not activated on this machine, activating")
		machine, err := c.activate(ctx, lic, fp)
		if err != nil {
			return fmt.Errorf("activate license: %w", err)
		}
		c.logger.Info("License activated", zap.String("machine_id", machine.ID))
	case errors.Is(err, keygen.ErrLicenseExpired):
		return ErrExpired
	case err != nil:
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if lic == nil {
		return fmt.Errorf("%w: not found", ErrInvalid)
	}

	c.logger.Info("License valid", zap.String("license_id", lic.ID))
	return nil
}

// Heartbeat re-validates every interval until ctx is done. Failures are
// logged, never fatal.
func (c *Checker) Heartbeat(ctx context.Context, every time.Duration) {
	if !c.cfg.Enabled() || every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		fp, err := c.fingerprint()
		if err == nil {
			_, err = c.validate(ctx, fp)
		}
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("License heartbeat failed", zap.Error(err))
			continue
		}
		c.logger.Debug("License heartbeat sent")
	}
}

func mask(key string) string {
	if len(key) <= minKeyLength {
		return "********"
	}
	return key[:minKeyLength] + "..."
}

// machineFingerprint hashes the hostname, the first active hardware address
// and the OS.
func machineFingerprint() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	var macs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 && len(iface.HardwareAddr) > 0 {
			macs = append(macs, iface.HardwareAddr.String())
		}
	}
	if len(macs) == 0 {
		return "", errors.New("no network interfaces found")
	}
	slices.Sort(macs)

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s", host, macs[0], runtime.GOOS)))
	return fmt.Sprintf("%x", sum), nil
}
