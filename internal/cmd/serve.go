package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Alia5/kbdfw/device/keyboard"
	"github.com/Alia5/kbdfw/firmware"
	"github.com/Alia5/kbdfw/internal/configpaths"
	"github.com/Alia5/kbdfw/internal/log"
	"github.com/Alia5/kbdfw/internal/server/api"
	"github.com/Alia5/kbdfw/internal/server/api/auth"
	"github.com/Alia5/kbdfw/internal/server/api/handler"
	"github.com/Alia5/kbdfw/internal/server/usb"
	"github.com/Alia5/kbdfw/keymap"
	"github.com/Alia5/kbdfw/resolver"
	"github.com/Alia5/kbdfw/usbdev"
)

// Serve runs the keyboard firmware behind a USB/IP server and the control API.
type Serve struct {
	Keymap string `arg:"" help:"Keymap file (.yaml, .toml or .json)" type:"existingfile" env:"KBDFW_KEYMAP"`
	Watch  bool   `help:"Reload the keymap when the file changes" env:"KBDFW_WATCH"`

	UsbServerConfig usb.ServerConfig `embed:"" prefix:"usbip."`
	ApiServerConfig api.ServerConfig `embed:"" prefix:"api."`
	Auth            bool             `help:"Require a password on the control API (generated into --key-file unless --password is set)" env:"KBDFW_API_AUTH"`
	Password        string           `help:"Control API password" env:"KBDFW_API_PASSWORD"`
	KeyFile         string           `help:"File holding the control API password (default: <config dir>/api.key)" env:"KBDFW_API_KEY_FILE"`

	Device   usbdev.Config    `embed:"" prefix:"usb."`
	Keyboard keyboard.Options `embed:"" prefix:"kbd."`
	Resolver resolver.Config  `embed:"" prefix:"resolver."`

	TickInterval      time.Duration `help:"Resolver tick period" default:"10ms" env:"KBDFW_TICK_INTERVAL"`
	ConnectionTimeout time.Duration `help:"Handshake and request timeout for USB/IP and API connections" default:"30s" env:"KBDFW_CONNECTION_TIMEOUT"`
}

// Run is called by Kong when the serve command is executed.
func (s *Serve) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.UsbServerConfig.ConnectionTimeout = s.ConnectionTimeout
	s.ApiServerConfig.ConnectionTimeout = s.ConnectionTimeout

	password, err := s.apiPassword(logger)
	if err != nil {
		return err
	}
	s.ApiServerConfig.Password = password

	km, err := keymap.Load(s.Keymap)
	if err != nil {
		return err
	}
	fw, err := firmware.New(km, s.firmwareConfig(), nil, logger)
	if err != nil {
		return fmt.Errorf("build firmware: %w", err)
	}
	logger.Info("Keymap loaded", "file", s.Keymap, "name", km.Name, "layers", len(km.Layers))

	fwCtx, fwCancel := context.WithCancel(ctx)
	defer fwCancel()
	fwErrCh := make(chan error, 1)
	go func() { fwErrCh <- fw.Run(fwCtx) }()

	if s.Watch {
		w, err := keymap.Watch(s.Keymap, logger)
		if err != nil {
			return fmt.Errorf("watch keymap: %w", err)
		}
		defer w.Close()
		w.OnChange(func(km *keymap.Keymap) {
			if err := fw.ReplaceKeymap(ctx, km); err != nil {
				logger.Error("Keymap reload rejected", "error", err)
				return
			}
			logger.Info("Keymap reloaded", "name", km.Name)
		})
		go func() {
			for err := range w.Errors() {
				logger.Warn("Keymap reload failed", "error", err)
			}
		}()
	}

	logger.Info("Starting kbdfw USB-IP server", "addr", s.UsbServerConfig.Addr)
	usbSrv := usb.New(s.UsbServerConfig, fw.Device(), logger, rawLogger)
	usbErrCh := make(chan error, 1)
	go func() {
		usbErrCh <- usbSrv.ListenAndServe()
	}()

	select {
	case err := <-usbErrCh:
		return err
	case <-usbSrv.Ready():
	}

	if s.ApiServerConfig.Addr == "" {
		_ = usbSrv.Close()
		return errors.New("API server address must be set (default :3242)")
	}
	apiSrv, err := api.New(usbSrv, s.ApiServerConfig, logger)
	if err != nil {
		_ = usbSrv.Close()
		return err
	}
	RegisterRoutes(apiSrv.Router(), fw, usbSrv)
	if err := apiSrv.Start(); err != nil {
		logger.Error("failed to start API server", "error", err)
		_ = usbSrv.Close()
		return err
	}

	select {
	case <-ctx.Done():
		apiSrv.Close()
		_ = usbSrv.Close()
		<-usbErrCh
		fwCancel()
		<-fwErrCh
		return nil
	case err := <-usbErrCh:
		apiSrv.Close()
		return err
	case err := <-fwErrCh:
		apiSrv.Close()
		_ = usbSrv.Close()
		return err
	}
}

// RegisterRoutes installs every control API route for fw.
func RegisterRoutes(r *api.Router, fw *firmware.Firmware, usbSrv *usb.Server) {
	r.Register("ping", handler.Ping())
	r.Register("key/{id}/press", handler.Key(fw, handler.KeyPress))
	r.Register("key/{id}/release", handler.Key(fw, handler.KeyRelease))
	r.Register("key/{id}/tap", handler.Key(fw, handler.KeyTap))
	r.Register("keyboard/state", handler.KeyboardState(fw, usbSrv))
	r.Register("layers", handler.Layers(fw))
	r.Register("layers/enable", handler.LayerCommand(fw, handler.LayerEnable))
	r.Register("layers/disable", handler.LayerCommand(fw, handler.LayerDisable))
	r.Register("layers/toggle", handler.LayerCommand(fw, handler.LayerToggle))
	r.Register("layers/base", handler.LayerCommand(fw, handler.LayerBase))
	r.Register("layers/reset", handler.LayersReset(fw))
	r.Register("usb/suspend", handler.USB(fw, handler.BusSuspend))
	r.Register("usb/resume", handler.USB(fw, handler.BusResume))
	r.Register("usb/wakeup", handler.USB(fw, handler.BusWakeup))
	r.Register("leds/override", handler.LEDOverride(fw))
	r.RegisterStream("matrix", handler.MatrixStream(fw))
}

func (s *Serve) firmwareConfig() firmware.Config {
	return firmware.Config{
		Keyboard:     s.Keyboard,
		Resolver:     s.Resolver,
		USB:          s.Device,
		TickInterval: s.TickInterval,
	}
}

// apiPassword resolves the API password: --password wins, then the key
// file, which is created with a random password when missing.
func (s *Serve) apiPassword(logger *slog.Logger) (string, error) {
	if s.Password != "" {
		return s.Password, nil
	}
	if !s.Auth {
		return "", nil
	}
	path := s.KeyFile
	if path == "" {
		p, err := configpaths.DefaultKeyFilePath()
		if err != nil {
			return "", fmt.Errorf("locate key file: %w", err)
		}
		path = p
	}
	return loadOrCreateKey(path, logger)
}

func loadOrCreateKey(path string, logger *slog.Logger) (string, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		key := strings.TrimSpace(string(b))
		if key == "" {
			return "", fmt.Errorf("key file %s: %w", path, auth.ErrEmptyPassword)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read key file: %w", err)
	}
	key, err := auth.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	if err := configpaths.EnsureDir(path); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(key+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write key file: %w", err)
	}
	logger.Info("Generated API password", "file", path)
	return key, nil
}
