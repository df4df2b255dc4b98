// Package config provides configuration loading and validation for recodarr,
// plus the runtime Store through which settings are read, changed, and watched.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultServerHost      = "0.0.0.0"
	DefaultServerPort      = 8080
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	DefaultSFTPPort   = 22
	DefaultRemotePath = "/"

	DefaultTransferMethod = "auto"

	DefaultLocalTemp       = "./data/temp"
	DefaultLocalBackup     = "./data/backup"
	DefaultDownloadPath    = "./data/downloads"
	DefaultFreeSpaceBuffer = 15

	DefaultDatabaseDriver = "sqlite"
	DefaultDatabasePath   = "recodarr.db"
	DefaultMaxOpenConns   = 25
	DefaultMaxIdleConns   = 10

	DefaultVideoCodec   = "hevc_nvenc"
	DefaultEncodePreset = "p5"
	DefaultCQ           = 24
	DefaultRCMode       = "vbr"
	DefaultLookahead    = 20
	DefaultBFrames      = 3
	DefaultAQStrength   = 8
	DefaultProfile      = "main"
	DefaultCPUPreset    = "medium"
	DefaultCRF          = 23
	DefaultAudioCodec   = "copy"
	DefaultAudioBitrate = "192k"

	DefaultReleaseTag        = "Z3D"
	DefaultRetryAttempts     = 3
	DefaultConnectionTimeout = 30 * time.Second
	DefaultMaxDownloads      = 2
	DefaultMaxPrefetch       = 2
	DefaultCleanupJobsDays   = 30
	DefaultCleanupLedgerDays = 90

	DefaultBackupCron      = "0 3 * * *"
	DefaultBackupRetention = 7
	DefaultBackupDirectory = "./data/db_backups"

	DefaultCacheRefreshHours = 24
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	Remote   RemoteConfig   `mapstructure:"remote" json:"remote"`
	WebDAV   WebDAVConfig   `mapstructure:"webdav" json:"webdav"`
	Transfer TransferConfig `mapstructure:"transfer" json:"transfer"`
	Storage  StorageConfig  `mapstructure:"storage" json:"storage"`
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg" json:"ffmpeg"`
	Advanced AdvancedConfig `mapstructure:"advanced" json:"advanced"`
	Logging  LoggingConfig  `mapstructure:"logging" json:"logging"`
	Backup   BackupConfig   `mapstructure:"backup" json:"backup"`
	Cache    CacheConfig    `mapstructure:"cache" json:"cache"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host" json:"host"`
	Port            int           `mapstructure:"port" json:"port"`
	BaseURL         string        `mapstructure:"base_url" json:"base_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

// Address returns the listen address in host:port form.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RemoteConfig holds the SFTP endpoint.
type RemoteConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"`
	KeyFile  string `mapstructure:"key_file" json:"key_file"`
	// Path is the library root on the remote; all job paths are relative to it.
	Path string `mapstructure:"path" json:"path"`
}

// Addr returns the SSH dial address in host:port form.
func (r *RemoteConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Configured reports whether enough fields are present to attempt a connection.
func (r *RemoteConfig) Configured() bool {
	return r.Host != "" && r.User != ""
}

// WebDAVConfig holds the WebDAV endpoint.
type WebDAVConfig struct {
	URL      string `mapstructure:"url" json:"url"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"password"`
	Path     string `mapstructure:"path" json:"path"`
}

// Configured reports whether enough fields are present to attempt a connection.
func (w *WebDAVConfig) Configured() bool {
	return w.URL != ""
}

// TransferConfig selects how remote operations are routed.
type TransferConfig struct {
	// Method is one of auto, sftp, webdav, prefer_sftp, prefer_webdav.
	Method string `mapstructure:"method" json:"method"`
	// RememberCapabilityDowngrade keeps a per-session note when a WebDAV
	// server rejects writes, so later writes go straight to SFTP.
	RememberCapabilityDowngrade bool `mapstructure:"remember_capability_downgrade" json:"remember_capability_downgrade"`
}

// StorageConfig holds local filesystem roots.
type StorageConfig struct {
	LocalTemp           string `mapstructure:"local_temp" json:"local_temp"`
	LocalBackup         string `mapstructure:"local_backup" json:"local_backup"`
	DefaultDownloadPath string `mapstructure:"default_download_path" json:"default_download_path"`
	// MinFreeSpaceBufferPercent is added on top of the known source size
	// when checking disk space before admitting a download.
	MinFreeSpaceBufferPercent int `mapstructure:"min_free_space_buffer_percent" json:"min_free_space_buffer_percent"`
}

// DownloadedDir returns the directory that holds in-flight downloads.
func (s StorageConfig) DownloadedDir() string {
	return filepath.Join(s.LocalTemp, "downloaded")
}

// EncodedDir returns the directory that holds encoder output.
func (s StorageConfig) EncodedDir() string {
	return filepath.Join(s.LocalTemp, "encoded")
}

// DatabaseConfig holds job store settings.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the SQLite file location; ignored for other drivers.
	Path string `mapstructure:"path" json:"path"`
	// DSN is the connection string for postgres/mysql.
	DSN          string `mapstructure:"dsn" json:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" json:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level" json:"log_level"`
}

// FFmpegConfig holds encoder settings.
type FFmpegConfig struct {
	BinaryPath  string `mapstructure:"binary_path" json:"binary_path"`
	FFprobePath string `mapstructure:"ffprobe_path" json:"ffprobe_path"`

	// VideoCodec selects the target family and mode: hevc_nvenc, libx265,
	// vp9_nvenc, libvpx-vp9.
	VideoCodec string `mapstructure:"video_codec" json:"video_codec"`
	GPUEnabled bool   `mapstructure:"gpu_enabled" json:"gpu_enabled"`
	// ForceGPU skips the software fallback when the hardware probe fails.
	ForceGPU bool `mapstructure:"force_gpu" json:"force_gpu"`
	GPULimit int  `mapstructure:"gpu_limit" json:"gpu_limit"`

	// GPU encoding parameters.
	EncodePreset string `mapstructure:"encode_preset" json:"encode_preset"`
	CQ           int    `mapstructure:"cq" json:"cq"`
	RCMode       string `mapstructure:"rc_mode" json:"rc_mode"`
	Bitrate      string `mapstructure:"bitrate" json:"bitrate"`
	Maxrate      string `mapstructure:"maxrate" json:"maxrate"`
	Lookahead    int    `mapstructure:"lookahead" json:"lookahead"`
	BFrames      int    `mapstructure:"bframes" json:"bframes"`
	BRefMode     string `mapstructure:"b_ref_mode" json:"b_ref_mode"`
	SpatialAQ    bool   `mapstructure:"spatial_aq" json:"spatial_aq"`
	TemporalAQ   bool   `mapstructure:"temporal_aq" json:"temporal_aq"`
	AQStrength   int    `mapstructure:"aq_strength" json:"aq_strength"`
	Multipass    string `mapstructure:"multipass" json:"multipass"`
	Profile      string `mapstructure:"profile" json:"profile"`
	TwoPass      bool   `mapstructure:"two_pass" json:"two_pass"`
	Tune         string `mapstructure:"tune" json:"tune"`

	// CPU encoding parameters.
	CPUPreset string `mapstructure:"cpu_preset" json:"cpu_preset"`
	CRF       int    `mapstructure:"crf" json:"crf"`

	AudioCodec   string `mapstructure:"audio_codec" json:"audio_codec"`
	AudioBitrate string `mapstructure:"audio_bitrate" json:"audio_bitrate"`
}

// AdvancedConfig holds behavioural flags and operational tuning.
type AdvancedConfig struct {
	CreateBackups          bool   `mapstructure:"create_backups" json:"create_backups"`
	VerifyChecksums        bool   `mapstructure:"verify_checksums" json:"verify_checksums"`
	KeepOriginal           bool   `mapstructure:"keep_original" json:"keep_original"`
	KeepEncoded            bool   `mapstructure:"keep_encoded" json:"keep_encoded"`
	SkipAlreadyTargetCodec bool   `mapstructure:"skip_already_target_codec" json:"skip_already_target_codec"`
	PauseBeforeUpload      bool   `mapstructure:"pause_before_upload" json:"pause_before_upload"`
	BlockLargerEncoded     bool   `mapstructure:"block_larger_encoded" json:"block_larger_encoded"`
	ReleaseTag             string `mapstructure:"release_tag" json:"release_tag"`

	// LogLevel, when set, overrides logging.level. Kept for compatibility
	// with configurations that tune the level here.
	LogLevel string `mapstructure:"log_level" json:"log_level"`

	RetryAttempts          int      `mapstructure:"retry_attempts" json:"retry_attempts"`
	ConnectionTimeout      Duration `mapstructure:"connection_timeout" json:"connection_timeout"`
	MaxConcurrentDownloads int      `mapstructure:"max_concurrent_downloads" json:"max_concurrent_downloads"`
	MaxPrefetchFiles       int      `mapstructure:"max_prefetch_files" json:"max_prefetch_files"`
	CleanupOldJobsDays     int      `mapstructure:"cleanup_old_jobs_days" json:"cleanup_old_jobs_days"`
	CleanupOldProgressDays int      `mapstructure:"cleanup_old_progress_days" json:"cleanup_old_progress_days"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level" json:"level"`
	Format     string `mapstructure:"format" json:"format"`
	AddSource  bool   `mapstructure:"add_source" json:"add_source"`
	TimeFormat string `mapstructure:"time_format" json:"time_format"`

	// File enables rotated file output; empty means stdout only.
	File       string   `mapstructure:"file" json:"file"`
	MaxSize    ByteSize `mapstructure:"max_size" json:"max_size"`
	MaxBackups int      `mapstructure:"max_backups" json:"max_backups"`
	MaxAge     int      `mapstructure:"max_age" json:"max_age"`
	Compress   bool     `mapstructure:"compress" json:"compress"`
}

// BackupConfig holds scheduled database backup settings.
type BackupConfig struct {
	Enabled   bool   `mapstructure:"enabled" json:"enabled"`
	Cron      string `mapstructure:"cron" json:"cron"`
	Retention int    `mapstructure:"retention" json:"retention"`
	Directory string `mapstructure:"directory" json:"directory"`
}

// CacheConfig holds remote index cache settings.
type CacheConfig struct {
	AutoRefreshHours int `mapstructure:"auto_refresh_hours" json:"auto_refresh_hours"`
}

// Load reads configuration from file, environment, and defaults.
// If configPath is empty, it searches standard locations for config.yaml.
// Environment variables use the RECODARR_ prefix with underscores,
// e.g. RECODARR_SERVER_PORT=9090.
func Load(configPath string) (*Config, error) {
	v, err := read(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}

	if res := cfg.Validate(); !res.Valid {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(res.Errors, "; "))
	}

	return cfg, nil
}

// unmarshal decodes the viper state into a Config, resolving human-readable
// sizes and durations, and applies the advanced.log_level override.
func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if cfg.Advanced.LogLevel != "" {
		cfg.Logging.Level = cfg.Advanced.LogLevel
	}
	return &cfg, nil
}

// SetDefaults configures default values for all configuration keys.
// Every key must have a default so environment binding works without a file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", DefaultServerHost)
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.read_timeout", DefaultReadTimeout)
	v.SetDefault("server.write_timeout", DefaultWriteTimeout)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)

	// Remote (SFTP) defaults
	v.SetDefault("remote.host", "")
	v.SetDefault("remote.port", DefaultSFTPPort)
	v.SetDefault("remote.user", "")
	v.SetDefault("remote.password", "")
	v.SetDefault("remote.key_file", "")
	v.SetDefault("remote.path", DefaultRemotePath)

	// WebDAV defaults
	v.SetDefault("webdav.url", "")
	v.SetDefault("webdav.username", "")
	v.SetDefault("webdav.password", "")
	v.SetDefault("webdav.path", DefaultRemotePath)

	// Transfer defaults
	v.SetDefault("transfer.method", DefaultTransferMethod)
	v.SetDefault("transfer.remember_capability_downgrade", true)

	// Storage defaults
	v.SetDefault("storage.local_temp", DefaultLocalTemp)
	v.SetDefault("storage.local_backup", DefaultLocalBackup)
	v.SetDefault("storage.default_download_path", DefaultDownloadPath)
	v.SetDefault("storage.min_free_space_buffer_percent", DefaultFreeSpaceBuffer)

	// Database defaults
	v.SetDefault("database.driver", DefaultDatabaseDriver)
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", DefaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", DefaultMaxIdleConns)
	v.SetDefault("database.log_level", "warn")

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "ffmpeg")
	v.SetDefault("ffmpeg.ffprobe_path", "ffprobe")
	v.SetDefault("ffmpeg.video_codec", DefaultVideoCodec)
	v.SetDefault("ffmpeg.gpu_enabled", true)
	v.SetDefault("ffmpeg.force_gpu", false)
	v.SetDefault("ffmpeg.gpu_limit", 0)
	v.SetDefault("ffmpeg.encode_preset", DefaultEncodePreset)
	v.SetDefault("ffmpeg.cq", DefaultCQ)
	v.SetDefault("ffmpeg.rc_mode", DefaultRCMode)
	v.SetDefault("ffmpeg.bitrate", "")
	v.SetDefault("ffmpeg.maxrate", "")
	v.SetDefault("ffmpeg.lookahead", DefaultLookahead)
	v.SetDefault("ffmpeg.bframes", DefaultBFrames)
	v.SetDefault("ffmpeg.b_ref_mode", "")
	v.SetDefault("ffmpeg.spatial_aq", true)
	v.SetDefault("ffmpeg.temporal_aq", true)
	v.SetDefault("ffmpeg.aq_strength", DefaultAQStrength)
	v.SetDefault("ffmpeg.multipass", "")
	v.SetDefault("ffmpeg.profile", DefaultProfile)
	v.SetDefault("ffmpeg.two_pass", false)
	v.SetDefault("ffmpeg.tune", "")
	v.SetDefault("ffmpeg.cpu_preset", DefaultCPUPreset)
	v.SetDefault("ffmpeg.crf", DefaultCRF)
	v.SetDefault("ffmpeg.audio_codec", DefaultAudioCodec)
	v.SetDefault("ffmpeg.audio_bitrate", DefaultAudioBitrate)

	// Advanced defaults
	v.SetDefault("advanced.create_backups", true)
	v.SetDefault("advanced.verify_checksums", true)
	v.SetDefault("advanced.keep_original", false)
	v.SetDefault("advanced.keep_encoded", false)
	v.SetDefault("advanced.skip_already_target_codec", true)
	v.SetDefault("advanced.pause_before_upload", false)
	v.SetDefault("advanced.block_larger_encoded", true)
	v.SetDefault("advanced.release_tag", DefaultReleaseTag)
	v.SetDefault("advanced.log_level", "")
	v.SetDefault("advanced.retry_attempts", DefaultRetryAttempts)
	v.SetDefault("advanced.connection_timeout", DefaultConnectionTimeout)
	v.SetDefault("advanced.max_concurrent_downloads", DefaultMaxDownloads)
	v.SetDefault("advanced.max_prefetch_files", DefaultMaxPrefetch)
	v.SetDefault("advanced.cleanup_old_jobs_days", DefaultCleanupJobsDays)
	v.SetDefault("advanced.cleanup_old_progress_days", DefaultCleanupLedgerDays)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", "")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size", "10MB")
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)
	v.SetDefault("logging.compress", true)

	// Backup defaults
	v.SetDefault("backup.enabled", false)
	v.SetDefault("backup.cron", DefaultBackupCron)
	v.SetDefault("backup.retention", DefaultBackupRetention)
	v.SetDefault("backup.directory", DefaultBackupDirectory)

	// Cache defaults
	v.SetDefault("cache.auto_refresh_hours", DefaultCacheRefreshHours)
}

// ValidationResult reports every violation found in a configuration snapshot.
// Validate never fails part-way; callers get the complete list.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

var (
	validTransferMethods = map[string]bool{
		"auto": true, "sftp": true, "webdav": true,
		"prefer_sftp": true, "prefer_webdav": true,
	}
	validVideoCodecs = map[string]bool{
		"hevc_nvenc": true, "libx265": true,
		"vp9_nvenc": true, "libvpx-vp9": true,
	}
	validEncodePresets = map[string]bool{
		"p1": true, "p2": true, "p3": true, "p4": true,
		"p5": true, "p6": true, "p7": true,
	}
	validRCModes = map[string]bool{
		"": true, "constqp": true, "vbr": true, "cbr": true,
	}
	validBRefModes = map[string]bool{
		"": true, "disabled": true, "each": true, "middle": true,
	}
	validMultipass = map[string]bool{
		"": true, "disabled": true, "qres": true, "fullres": true,
	}
	validProfiles = map[string]bool{
		"main": true, "main10": true,
	}
	validCPUPresets = map[string]bool{
		"ultrafast": true, "superfast": true, "veryfast": true,
		"faster": true, "fast": true, "medium": true,
		"slow": true, "slower": true, "veryslow": true, "placebo": true,
	}
	validAudioCodecs = map[string]bool{
		"copy": true, "aac": true, "ac3": true, "opus": true,
	}
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "text": true}
	validDBDrivers  = map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	validDBLogs     = map[string]bool{"silent": true, "error": true, "warn": true, "info": true}
)

// Validate checks the entire configuration and collects every violation.
func (c *Config) Validate() ValidationResult {
	var errs []string
	add := func(field, format string, args ...any) {
		errs = append(errs, field+": "+fmt.Sprintf(format, args...))
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}

	// Remote endpoints are optional until a connection is attempted, but
	// fields that are set must be coherent.
	if c.Remote.Port < 1 || c.Remote.Port > 65535 {
		add("remote.port", "must be between 1 and 65535, got %d", c.Remote.Port)
	}
	if c.Remote.Host != "" && c.Remote.User == "" {
		add("remote.user", "required when remote.host is set")
	}
	if c.WebDAV.URL != "" {
		u, err := url.Parse(c.WebDAV.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("webdav.url", "must be an http or https URL, got %q", c.WebDAV.URL)
		}
	}

	if !validTransferMethods[c.Transfer.Method] {
		add("transfer.method", "must be one of auto, sftp, webdav, prefer_sftp, prefer_webdav, got %q", c.Transfer.Method)
	}

	// Storage
	if c.Storage.LocalTemp == "" {
		add("storage.local_temp", "must not be empty")
	}
	if c.Storage.MinFreeSpaceBufferPercent < 0 || c.Storage.MinFreeSpaceBufferPercent > 100 {
		add("storage.min_free_space_buffer_percent", "must be between 0 and 100, got %d", c.Storage.MinFreeSpaceBufferPercent)
	}

	// Database
	if !validDBDrivers[c.Database.Driver] {
		add("database.driver", "must be one of sqlite, postgres, mysql, got %q", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		add("database.path", "required for the sqlite driver")
	}
	if (c.Database.Driver == "postgres" || c.Database.Driver == "mysql") && c.Database.DSN == "" {
		add("database.dsn", "required for the %s driver", c.Database.Driver)
	}
	if c.Database.MaxOpenConns < 1 {
		add("database.max_open_conns", "must be at least 1, got %d", c.Database.MaxOpenConns)
	}
	if c.Database.MaxIdleConns < 0 {
		add("database.max_idle_conns", "must not be negative, got %d", c.Database.MaxIdleConns)
	}
	if c.Database.LogLevel != "" && !validDBLogs[c.Database.LogLevel] {
		add("database.log_level", "must be one of silent, error, warn, info, got %q", c.Database.LogLevel)
	}

	// FFmpeg
	if !validVideoCodecs[c.FFmpeg.VideoCodec] {
		add("ffmpeg.video_codec", "must be one of hevc_nvenc, libx265, vp9_nvenc, libvpx-vp9, got %q", c.FFmpeg.VideoCodec)
	}
	if c.FFmpeg.GPULimit < 0 || c.FFmpeg.GPULimit > 100 {
		add("ffmpeg.gpu_limit", "must be between 0 and 100, got %d", c.FFmpeg.GPULimit)
	}
	if !validEncodePresets[c.FFmpeg.EncodePreset] {
		add("ffmpeg.encode_preset", "must be p1 through p7, got %q", c.FFmpeg.EncodePreset)
	}
	if c.FFmpeg.CQ < 0 || c.FFmpeg.CQ > 51 {
		add("ffmpeg.cq", "must be between 0 and 51, got %d", c.FFmpeg.CQ)
	}
	if !validRCModes[c.FFmpeg.RCMode] {
		add("ffmpeg.rc_mode", "must be one of constqp, vbr, cbr, got %q", c.FFmpeg.RCMode)
	}
	if c.FFmpeg.Lookahead < 0 {
		add("ffmpeg.lookahead", "must not be negative, got %d", c.FFmpeg.Lookahead)
	}
	if c.FFmpeg.BFrames < 0 || c.FFmpeg.BFrames > 5 {
		add("ffmpeg.bframes", "must be between 0 and 5, got %d", c.FFmpeg.BFrames)
	}
	if !validBRefModes[c.FFmpeg.BRefMode] {
		add("ffmpeg.b_ref_mode", "must be one of disabled, each, middle, got %q", c.FFmpeg.BRefMode)
	}
	if c.FFmpeg.AQStrength < 0 || c.FFmpeg.AQStrength > 15 {
		add("ffmpeg.aq_strength", "must be between 0 and 15, got %d", c.FFmpeg.AQStrength)
	}
	if !validMultipass[c.FFmpeg.Multipass] {
		add("ffmpeg.multipass", "must be one of disabled, qres, fullres, got %q", c.FFmpeg.Multipass)
	}
	if !validProfiles[c.FFmpeg.Profile] {
		add("ffmpeg.profile", "must be main or main10, got %q", c.FFmpeg.Profile)
	}
	if !validCPUPresets[c.FFmpeg.CPUPreset] {
		add("ffmpeg.cpu_preset", "must be an x265/x264 preset name, got %q", c.FFmpeg.CPUPreset)
	}
	if c.FFmpeg.CRF < 0 || c.FFmpeg.CRF > 51 {
		add("ffmpeg.crf", "must be between 0 and 51, got %d", c.FFmpeg.CRF)
	}
	if !validAudioCodecs[c.FFmpeg.AudioCodec] {
		add("ffmpeg.audio_codec", "must be one of copy, aac, ac3, opus, got %q", c.FFmpeg.AudioCodec)
	}

	// Advanced
	if c.Advanced.ReleaseTag == "" {
		add("advanced.release_tag", "must not be empty")
	}
	if c.Advanced.LogLevel != "" && !validLogLevels[c.Advanced.LogLevel] {
		add("advanced.log_level", "must be one of debug, info, warn, error, got %q", c.Advanced.LogLevel)
	}
	if c.Advanced.RetryAttempts < 0 {
		add("advanced.retry_attempts", "must not be negative, got %d", c.Advanced.RetryAttempts)
	}
	if c.Advanced.ConnectionTimeout <= 0 {
		add("advanced.connection_timeout", "must be positive, got %s", c.Advanced.ConnectionTimeout)
	}
	if c.Advanced.MaxConcurrentDownloads < 1 {
		add("advanced.max_concurrent_downloads", "must be at least 1, got %d", c.Advanced.MaxConcurrentDownloads)
	}
	if c.Advanced.MaxPrefetchFiles < 0 {
		add("advanced.max_prefetch_files", "must not be negative, got %d", c.Advanced.MaxPrefetchFiles)
	}
	if c.Advanced.CleanupOldJobsDays < 0 {
		add("advanced.cleanup_old_jobs_days", "must not be negative, got %d", c.Advanced.CleanupOldJobsDays)
	}
	if c.Advanced.CleanupOldProgressDays < 0 {
		add("advanced.cleanup_old_progress_days", "must not be negative, got %d", c.Advanced.CleanupOldProgressDays)
	}

	// Logging
	if !validLogLevels[c.Logging.Level] {
		add("logging.level", "must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	if !validLogFormats[c.Logging.Format] {
		add("logging.format", "must be json or text, got %q", c.Logging.Format)
	}
	if c.Logging.MaxSize <= 0 {
		add("logging.max_size", "must be positive, got %s", c.Logging.MaxSize)
	}
	if c.Logging.MaxBackups < 0 {
		add("logging.max_backups", "must not be negative, got %d", c.Logging.MaxBackups)
	}
	if c.Logging.MaxAge < 0 {
		add("logging.max_age", "must not be negative, got %d", c.Logging.MaxAge)
	}

	// Backup
	if c.Backup.Enabled {
		if c.Backup.Cron == "" {
			add("backup.cron", "required when backups are enabled")
		}
		if c.Backup.Retention < 1 || c.Backup.Retention > 365 {
			add("backup.retention", "must be between 1 and 365, got %d", c.Backup.Retention)
		}
		if c.Backup.Directory == "" {
			add("backup.directory", "required when backups are enabled")
		}
	}

	// Cache
	if c.Cache.AutoRefreshHours < 0 {
		add("cache.auto_refresh_hours", "must not be negative, got %d", c.Cache.AutoRefreshHours)
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
