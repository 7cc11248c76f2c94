package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"resbac/internal/arrival"
	"resbac/internal/call"
	"resbac/internal/relay"
	"resbac/internal/sampler"
	"resbac/internal/throttle"
)

// Config holds the application's configuration.
type Config struct {
	API struct {
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int64  `yaml:"timeout_seconds"`
	} `yaml:"api"`
	Broker struct {
		Driver    string `yaml:"driver"` // pusher | redis
		Key       string `yaml:"key"`
		Cluster   string `yaml:"cluster"`
		Host      string `yaml:"host"`
		TLS       *bool  `yaml:"tls"`
		RedisAddr string `yaml:"redis_addr"`
		RedisDB   int    `yaml:"redis_db"`
		Backoff   struct {
			InitialMillis int64   `yaml:"initial_ms"`
			MaxMillis     int64   `yaml:"max_ms"`
			Jitter        float64 `yaml:"jitter"`
		} `yaml:"backoff"`
	} `yaml:"broker"`
	Tracking struct {
		Accuracy            string  `yaml:"accuracy"`
		SampleIntervalMs    int64   `yaml:"sample_interval_ms"`
		SampleDistanceM     float64 `yaml:"sample_distance_m"`
		MinMoveMeters       float64 `yaml:"min_move_m"`
		MaxSilenceMs        int64   `yaml:"max_silence_ms"`
		AccuracyJitterM     float64 `yaml:"accuracy_jitter_m"`
		ArrivalRadiusM      float64 `yaml:"arrival_radius_m"`
		ArrivalMaxAccuracyM float64 `yaml:"arrival_max_accuracy_m"`
		TrackFile           string  `yaml:"track_file"`
		ReplaySpeed         float64 `yaml:"replay_speed"`
	} `yaml:"tracking"`
	Call struct {
		PollIntervalMs     int64 `yaml:"poll_interval_ms"`
		TickMs             int64 `yaml:"tick_ms"`
		RingTimeoutSeconds int64 `yaml:"ring_timeout_seconds"`
	} `yaml:"call"`
	Geocode struct {
		Provider string `yaml:"provider"` // here | google
		APIKey   string `yaml:"api_key"`
	} `yaml:"geocode"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Server struct {
		Port      string `yaml:"port"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Notify struct {
		TelegramBotToken string `yaml:"telegram_bot_token"`
		TelegramChatID   int64  `yaml:"telegram_chat_id"`
	} `yaml:"notify"`
	Log struct {
		Level string `yaml:"level"` // development | production
	} `yaml:"log"`
}

// LoadConfig reads configuration from the specified YAML file.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.expandSecrets()
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) expandSecrets() {
	c.Broker.Key = os.ExpandEnv(c.Broker.Key)
	c.Geocode.APIKey = os.ExpandEnv(c.Geocode.APIKey)
	c.Server.JWTSecret = os.ExpandEnv(c.Server.JWTSecret)
	c.Notify.TelegramBotToken = os.ExpandEnv(c.Notify.TelegramBotToken)
}

func (c *Config) applyDefaults() {
	if c.API.TimeoutSeconds == 0 {
		c.API.TimeoutSeconds = 15
	}
	if c.Broker.Driver == "" {
		c.Broker.Driver = "pusher"
	}
	if c.Broker.Cluster == "" {
		c.Broker.Cluster = "mt1"
	}
	def := relay.DefaultBackoff()
	if c.Broker.Backoff.InitialMillis == 0 {
		c.Broker.Backoff.InitialMillis = def.Initial.Milliseconds()
	}
	if c.Broker.Backoff.MaxMillis == 0 {
		c.Broker.Backoff.MaxMillis = def.Max.Milliseconds()
	}
	if c.Broker.Backoff.Jitter == 0 {
		c.Broker.Backoff.Jitter = def.Jitter
	}

	sc := sampler.DefaultConfig()
	if c.Tracking.Accuracy == "" {
		c.Tracking.Accuracy = string(sc.DesiredAccuracy)
	}
	if c.Tracking.SampleIntervalMs == 0 {
		c.Tracking.SampleIntervalMs = sc.MinInterval.Milliseconds()
	}
	if c.Tracking.SampleDistanceM == 0 {
		c.Tracking.SampleDistanceM = sc.MinDistanceMeters
	}
	if c.Tracking.MinMoveMeters == 0 {
		c.Tracking.MinMoveMeters = throttle.DefaultMinMoveMeters
	}
	if c.Tracking.MaxSilenceMs == 0 {
		c.Tracking.MaxSilenceMs = throttle.DefaultMaxSilence.Milliseconds()
	}
	if c.Tracking.AccuracyJitterM == 0 {
		c.Tracking.AccuracyJitterM = throttle.DefaultAccuracyJitterMeter
	}
	if c.Tracking.ArrivalRadiusM == 0 {
		c.Tracking.ArrivalRadiusM = arrival.DefaultRadiusMeters
	}
	if c.Tracking.ArrivalMaxAccuracyM == 0 {
		c.Tracking.ArrivalMaxAccuracyM = arrival.DefaultMaxAccuracyMeters
	}
	if c.Tracking.ReplaySpeed == 0 {
		c.Tracking.ReplaySpeed = 1
	}

	cc := call.DefaultConfig()
	if c.Call.PollIntervalMs == 0 {
		c.Call.PollIntervalMs = cc.PollInterval.Milliseconds()
	}
	if c.Call.TickMs == 0 {
		c.Call.TickMs = cc.Tick.Milliseconds()
	}

	if c.Geocode.Provider == "" {
		c.Geocode.Provider = "here"
	}
	if c.Store.Path == "" {
		c.Store.Path = "resbac.db"
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "development"
	}
}

// Validate rejects values the tracker cannot start with.
func (c *Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.API.BaseURL)
	if c.API.BaseURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url must be an absolute URL, got %q", c.API.BaseURL))
	}
	if c.API.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("api.timeout_seconds must not be negative"))
	}

	switch c.Broker.Driver {
	case "pusher":
		if c.Broker.Key == "" {
			errs = append(errs, errors.New("broker.key is required for the pusher driver"))
		}
	case "redis":
		if c.Broker.RedisAddr == "" {
			errs = append(errs, errors.New("broker.redis_addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("broker.driver must be pusher or redis, got %q", c.Broker.Driver))
	}
	b := c.Broker.Backoff
	if b.InitialMillis < 0 || b.MaxMillis < b.InitialMillis {
		errs = append(errs, errors.New("broker.backoff requires 0 <= initial_ms <= max_ms"))
	}
	if b.Jitter < 0 || b.Jitter >= 1 {
		errs = append(errs, errors.New("broker.backoff.jitter must be in [0, 1)"))
	}

	if err := c.SamplerConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracking: %w", err))
	}
	t := c.Tracking
	if t.MinMoveMeters < 0 || t.MaxSilenceMs < 0 || t.AccuracyJitterM < 0 {
		errs = append(errs, errors.New("tracking throttle thresholds must not be negative"))
	}
	if t.ArrivalRadiusM <= 0 || t.ArrivalMaxAccuracyM <= 0 {
		errs = append(errs, errors.New("tracking arrival thresholds must be positive"))
	}
	if t.ReplaySpeed <= 0 {
		errs = append(errs, errors.New("tracking.replay_speed must be positive"))
	}

	if c.Call.PollIntervalMs < 0 || c.Call.TickMs < 0 || c.Call.RingTimeoutSeconds < 0 {
		errs = append(errs, errors.New("call intervals must not be negative"))
	}

	switch c.Geocode.Provider {
	case "here", "google", "none":
	default:
		errs = append(errs, fmt.Errorf("geocode.provider must be here, google or none, got %q", c.Geocode.Provider))
	}
	if c.Geocode.Provider != "none" && c.Geocode.APIKey == "" {
		errs = append(errs, errors.New("geocode.api_key is required"))
	}

	if c.Server.JWTSecret != "" && len(c.Server.JWTSecret) < 16 {
		errs = append(errs, errors.New("server.jwt_secret must be at least 16 characters"))
	}
	if (c.Notify.TelegramBotToken == "") != (c.Notify.TelegramChatID == 0) {
		errs = append(errs, errors.New("notify.telegram_bot_token and notify.telegram_chat_id must be set together"))
	}
	switch c.Log.Level {
	case "development", "production":
	default:
		errs = append(errs, fmt.Errorf("log.level must be development or production, got %q", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func ms(v int64) time.Duration { return time.Duration(v) * time.Millisecond }

func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

func (c *Config) SamplerConfig() sampler.Config {
	return sampler.Config{
		DesiredAccuracy:   sampler.Accuracy(c.Tracking.Accuracy),
		MinInterval:       ms(c.Tracking.SampleIntervalMs),
		MinDistanceMeters: c.Tracking.SampleDistanceM,
	}
}

func (c *Config) ThrottleConfig() throttle.Config {
	return throttle.Config{
		MinMoveMeters:        c.Tracking.MinMoveMeters,
		MaxSilence:           ms(c.Tracking.MaxSilenceMs),
		AccuracyJitterMeters: c.Tracking.AccuracyJitterM,
	}
}

func (c *Config) ArrivalConfig() arrival.Config {
	return arrival.Config{
		RadiusMeters:      c.Tracking.ArrivalRadiusM,
		MaxAccuracyMeters: c.Tracking.ArrivalMaxAccuracyM,
	}
}

func (c *Config) CallConfig() call.Config {
	return call.Config{
		PollInterval: ms(c.Call.PollIntervalMs),
		Tick:         ms(c.Call.TickMs),
		RingTimeout:  time.Duration(c.Call.RingTimeoutSeconds) * time.Second,
	}
}

func (c *Config) RelayConfig() relay.Config {
	rc := relay.DefaultConfig()
	rc.Backoff.Initial = ms(c.Broker.Backoff.InitialMillis)
	rc.Backoff.Max = ms(c.Broker.Backoff.MaxMillis)
	rc.Backoff.Jitter = c.Broker.Backoff.Jitter
	return rc
}
