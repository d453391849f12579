package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v6"
)

// StoreConfig holds configuration for the realtime store connection.
type StoreConfig struct {
	// URL is the websocket endpoint of the realtime store.
	URL string `env:"COLLAB_STORE_URL" envDefault:"ws://localhost:8080/ws/v1/listen" json:"url"`

	// SendChannelBuffer is the buffer size for the channel carrying outgoing
	// store writes. Prevents blocking callers while a write is in flight.
	SendChannelBuffer int `env:"COLLAB_STORE_SEND_BUFFER" envDefault:"16" json:"send_channel_buffer"`

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration `env:"COLLAB_STORE_HANDSHAKE_TIMEOUT" envDefault:"5s" json:"handshake_timeout"`
}

// Config holds all configuration for the collaboration engine.
type Config struct {
	// DebounceWindow is how long local change notifications coalesce before
	// one push to the store.
	DebounceWindow time.Duration `env:"COLLAB_DEBOUNCE_WINDOW" envDefault:"100ms" json:"debounce_window"`

	// ShareCodeLength is the length of generated share codes.
	ShareCodeLength int `env:"COLLAB_SHARE_CODE_LENGTH" envDefault:"6" json:"share_code_length"`

	// Frame sizes in pixels for the two plugin states.
	InitialFrameWidth  int `env:"COLLAB_FRAME_WIDTH" envDefault:"420" json:"initial_frame_width"`
	InitialFrameHeight int `env:"COLLAB_FRAME_HEIGHT" envDefault:"350" json:"initial_frame_height"`
	SharingFrameWidth  int `env:"COLLAB_SHARING_FRAME_WIDTH" envDefault:"400" json:"sharing_frame_width"`
	SharingFrameHeight int `env:"COLLAB_SHARING_FRAME_HEIGHT" envDefault:"350" json:"sharing_frame_height"`

	Store StoreConfig `json:"store"`
}

// Load reads configuration from environment variables and applies defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.New("failed to load collaboration configuration from environment: " + err.Error())
	}
	if err := env.Parse(&cfg.Store); err != nil {
		return nil, errors.New("failed to load store configuration from environment: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.DebounceWindow <= 0 {
		return errors.New("debounce window must be positive")
	}
	if c.ShareCodeLength < 4 {
		return errors.New("share codes shorter than 4 characters collide too easily")
	}
	if c.Store.URL == "" {
		return errors.New("store URL is not set")
	}
	if c.Store.SendChannelBuffer <= 0 {
		c.Store.SendChannelBuffer = 16
	}
	return nil
}

// Default returns a Config with default values, used by tests and local runs
// that bypass the environment.
func Default() *Config {
	return &Config{
		DebounceWindow:     100 * time.Millisecond,
		ShareCodeLength:    6,
		InitialFrameWidth:  420,
		InitialFrameHeight: 350,
		SharingFrameWidth:  400,
		SharingFrameHeight: 350,
		Store: StoreConfig{
			URL:               "ws://localhost:8080/ws/v1/listen",
			SendChannelBuffer: 16,
			HandshakeTimeout:  5 * time.Second,
		},
	}
}
