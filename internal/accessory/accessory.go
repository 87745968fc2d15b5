package accessory

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/openhap/hapd/internal/app"
	"github.com/openhap/hapd/internal/app/store"
	"github.com/openhap/hapd/pkg/hap"
	"github.com/openhap/hapd/pkg/hap/setuppin"
	"github.com/rs/zerolog"
)

func Init() {
	var cfg struct {
		Mod struct {
			Listen   string `yaml:"listen"`
			Name     string `yaml:"name"`
			Model    string `yaml:"model"`
			DeviceID string `yaml:"device_id"`
			Private  string `yaml:"private"`
			Pin      string `yaml:"pin"`
			Category string `yaml:"category"`
			MaxPeers int    `yaml:"max_peers"`
			MDNS     bool   `yaml:"mdns"`
		} `yaml:"hap"`
	}

	cfg.Mod.Listen = ":51826"
	cfg.Mod.Name = "hapd"
	cfg.Mod.Model = "hapd"
	cfg.Mod.Pin = "195-50-224"
	cfg.Mod.Category = "2" // bridge
	cfg.Mod.MDNS = true

	app.LoadConfig(&cfg)

	log = app.GetLogger("hap")

	pin, err := setuppin.Format(cfg.Mod.Pin)
	if err != nil {
		log.Fatal().Err(err).Str("pin", cfg.Mod.Pin).Msg("[hap] setup code")
		return
	}

	device := loadDevice(cfg.Mod.Name, cfg.Mod.DeviceID, cfg.Mod.Private, pin)

	_, portStr, err := net.SplitHostPort(cfg.Mod.Listen)
	if err != nil {
		log.Fatal().Err(err).Str("listen", cfg.Mod.Listen).Msg("[hap] listen")
		return
	}
	port, _ := strconv.Atoi(portStr)

	var onChange func(bool)

	ann := &announcer{
		name:     cfg.Mod.Name,
		model:    cfg.Mod.Model,
		category: cfg.Mod.Category,
		port:     port,
		device:   device,
	}
	if cfg.Mod.MDNS {
		onChange = ann.UpdateStatus
	}

	disk := newDiskStore(device, onChange)

	server := &hap.Server{
		Store:    disk,
		MaxPeers: cfg.Mod.MaxPeers,
		Log:      log,
		OnDevicePaired: func(p *hap.Pairing) {
			log.Info().Str("controller", p.ID.String()).Msg("[hap] device paired")
		},
		DefaultSecureHandler: accessoriesHandler(device, cfg.Mod.Name, cfg.Mod.Model),
	}

	if cfg.Mod.MDNS {
		ann.UpdateStatus(len(disk.Pairings()) > 0)
	}

	log.Info().
		Str("listen", cfg.Mod.Listen).
		Str("device_id", device.ID).
		Str("uri", setuppin.GenerateSetupURI(cfg.Mod.Category, pin, "")).
		Msg("[hap] online")

	go func() {
		if err := server.Serve(cfg.Mod.Listen); err != nil {
			log.Fatal().Err(err).Msg("[hap] serve")
		}
	}()
}

var log zerolog.Logger

// loadDevice builds the long-term identity: config values win, then the
// JSON store, then a fresh random key that gets persisted.
func loadDevice(name, deviceID, private, pin string) *hap.Device {
	dict := store.GetDict("device")

	if private == "" {
		private, _ = dict["private"].(string)
	}
	if deviceID == "" {
		deviceID, _ = dict["id"].(string)
	}

	var key ed25519.PrivateKey
	if b := hap.DecodeKey(private); len(b) == ed25519.PrivateKeySize {
		key = b
	} else {
		key = hap.GenerateKey()
	}
	if deviceID == "" {
		deviceID = hap.GenerateID(name)
	}

	if err := store.Set("device", map[string]any{
		"id": deviceID, "private": hex.EncodeToString(key),
	}); err != nil {
		log.Warn().Err(err).Msg("[hap] can't save device identity")
	}

	return &hap.Device{
		ID:         deviceID,
		PublicKey:  key.Public().(ed25519.PublicKey),
		PrivateKey: key,
		PIN:        pin,
	}
}

// accessoriesHandler answers GET /accessories on the secure channel with
// basic accessory info
func accessoriesHandler(device *hap.Device, name, model string) func(io.Writer, *http.Request, hap.Session) error {
	return func(w io.Writer, r *http.Request, s hap.Session) error {
		if r.Method != "GET" || r.URL.Path != "/accessories" {
			return hap.WriteResponse(w, http.StatusNotFound, hap.MimeJSON, nil)
		}

		b, err := json.Marshal(map[string]any{
			"name":      name,
			"model":     model,
			"device_id": device.ID,
		})
		if err != nil {
			return err
		}

		return hap.WriteResponse(w, http.StatusOK, hap.MimeJSON, b)
	}
}
