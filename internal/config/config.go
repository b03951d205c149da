package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Tier describes the caps applied to one subscription class.
// Tiers are data, not code: the resolver and ledger only read them.
type Tier struct {
	MaxStreams      int    `mapstructure:"max_streams"`
	PerStreamBpsCap int64  `mapstructure:"per_stream_bps_cap"`
	MaxResolution   string `mapstructure:"max_resolution"`
}

type Config struct {
	Server struct {
		Addr        string `mapstructure:"addr"`
		MetricsPort string `mapstructure:"metrics_port"`
		JWTSecret   string `mapstructure:"jwt_secret"`
	} `mapstructure:"server"`
	Database struct {
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
	} `mapstructure:"database"`
	Storage struct {
		Provider     string `mapstructure:"provider"` // "s3" or "local"
		KeyID        string `mapstructure:"key_id"`
		AppKey       string `mapstructure:"app_key"`
		Endpoint     string `mapstructure:"endpoint"`
		Region       string `mapstructure:"region"`
		BucketMedia  string `mapstructure:"bucket_media"`
		BucketRender string `mapstructure:"bucket_renditions"`
		LocalRoot    string `mapstructure:"local_root"`
		SignedURLTTL int    `mapstructure:"signed_url_ttl_seconds"`
	} `mapstructure:"storage"`
	Bandwidth struct {
		GlobalMaxBps  int64           `mapstructure:"global_max_bps"`
		Tiers         map[string]Tier `mapstructure:"tiers"`
		LogIntervalMB int             `mapstructure:"log_interval_mb"`
		RateLimitWin  int             `mapstructure:"rate_limit_window_s"`
		RateLimitMax  int             `mapstructure:"rate_limit_max_requests"`
	} `mapstructure:"bandwidth"`
	Quality struct {
		LadderAudioKbps []int    `mapstructure:"ladder_audio_kbps"`
		LadderVideo     []string `mapstructure:"ladder_video"`
	} `mapstructure:"quality"`
	Sessions struct {
		AudioTimeoutMs  int `mapstructure:"audio_timeout_ms"`
		VideoTimeoutMs  int `mapstructure:"video_timeout_ms"`
		SweepIntervalMs int `mapstructure:"sweep_interval_ms"`
	} `mapstructure:"sessions"`
	Rooms struct {
		PingIntervalMs  int `mapstructure:"ping_interval_ms"`
		MissedPingLimit int `mapstructure:"missed_ping_limit"`
		CountDebounceMs int `mapstructure:"count_debounce_ms"`
	} `mapstructure:"rooms"`
	Transcode struct {
		RenditionTTLDays int `mapstructure:"rendition_ttl_days"`
		WorkerTimeoutS   int `mapstructure:"worker_timeout_s"`
		JanitorIntervalS int `mapstructure:"janitor_interval_s"`
		AdmitDeadlineMs  int `mapstructure:"admit_deadline_ms"`
		RetryAfterMs     int `mapstructure:"retry_after_ms"`
	} `mapstructure:"transcode"`
}

func Load() *Config {
	viper.SetEnvPrefix("RADIO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Register keys
	viper.BindEnv("server.addr")
	viper.BindEnv("server.metrics_port")
	viper.BindEnv("server.jwt_secret")
	viper.BindEnv("database.host")
	viper.BindEnv("database.port")
	viper.BindEnv("database.user")
	viper.BindEnv("database.password")
	viper.BindEnv("database.name")
	viper.BindEnv("storage.provider")
	viper.BindEnv("storage.key_id")
	viper.BindEnv("storage.app_key")
	viper.BindEnv("storage.endpoint")
	viper.BindEnv("storage.region")
	viper.BindEnv("storage.bucket_media")
	viper.BindEnv("storage.bucket_renditions")
	viper.BindEnv("storage.local_root")
	viper.BindEnv("bandwidth.global_max_bps")

	// Defaults
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.metrics_port", ":9091")
	viper.SetDefault("server.jwt_secret", "super-secret-radio-key-change-me")
	viper.SetDefault("storage.provider", "s3")
	viper.SetDefault("storage.signed_url_ttl_seconds", 300)

	// Bandwidth defaults (values are config, not contract)
	viper.SetDefault("bandwidth.global_max_bps", int64(1_000_000_000)) // 1 Gbps
	viper.SetDefault("bandwidth.log_interval_mb", 10)
	viper.SetDefault("bandwidth.rate_limit_window_s", 60)
	viper.SetDefault("bandwidth.rate_limit_max_requests", 30)
	viper.SetDefault("bandwidth.tiers", map[string]Tier{
		"free":    {MaxStreams: 100, PerStreamBpsCap: 128_000, MaxResolution: "360p"},
		"basic":   {MaxStreams: 500, PerStreamBpsCap: 192_000, MaxResolution: "480p"},
		"pro":     {MaxStreams: 2000, PerStreamBpsCap: 320_000, MaxResolution: "720p"},
		"premium": {MaxStreams: 5000, PerStreamBpsCap: 320_000, MaxResolution: "1080p"},
	})

	viper.SetDefault("quality.ladder_audio_kbps", []int{64, 96, 128, 192, 256, 320})
	viper.SetDefault("quality.ladder_video", []string{"360p", "480p", "720p", "1080p"})

	viper.SetDefault("sessions.audio_timeout_ms", 90_000)
	viper.SetDefault("sessions.video_timeout_ms", 30_000)
	viper.SetDefault("sessions.sweep_interval_ms", 5_000)

	viper.SetDefault("rooms.ping_interval_ms", 25_000)
	viper.SetDefault("rooms.missed_ping_limit", 3)
	viper.SetDefault("rooms.count_debounce_ms", 250)

	viper.SetDefault("transcode.rendition_ttl_days", 7)
	viper.SetDefault("transcode.worker_timeout_s", 120)
	viper.SetDefault("transcode.janitor_interval_s", 60)
	viper.SetDefault("transcode.admit_deadline_ms", 5_000)
	viper.SetDefault("transcode.retry_after_ms", 3_000)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("Warning: Config error: %s", err)
		} else {
			log.Println("Info: config.yaml not found, using Environment Variables only.")
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Unable to decode config: %v", err)
	}

	return &cfg
}
