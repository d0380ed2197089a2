package config

const (
	defaultStateDir             = "~/.local/share/usbforge"
	defaultLogDir               = "~/.local/share/usbforge/logs"
	defaultReportDir            = "~/.local/share/usbforge/reports"
	defaultMusicDir             = "~/media/musica"
	defaultVideosDir            = "~/media/videos"
	defaultMoviesDir            = "~/media/peliculas"
	defaultSeriesDir            = "~/media/series"
	defaultTickInterval         = 5
	defaultRefreshInterval      = 120
	defaultHealthInterval       = 120
	defaultOrderTimeout         = 7200
	defaultQueueAlertThreshold  = 10
	defaultFilesystem           = "vfat"
	defaultEmptyRatio           = 0.05
	defaultCommandTimeout       = 120
	defaultCopyAttempts         = 3
	defaultCopyRetryDelay       = 2
	defaultMaxFileGiB           = 100
	defaultMinVerifiedBytes     = 1024
	defaultBufferKiB            = 1024
	defaultLocatorCacheSize     = 256
	defaultLocatorCacheTTL      = 90
	defaultNotifyRequestTimeout = 10
	defaultNotifyDedupWindow    = 600
	defaultOrderAPITimeout      = 30
	defaultOrderAPIMaxRetries   = 3
	defaultOrderAPIRetryDelayMS = 1000
	defaultOrderAPIPageSize     = 20
	defaultMetricsBind          = "127.0.0.1:9478"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
)

var (
	defaultMountRoots      = []string{"/media", "/run/media", "/mnt"}
	defaultMusicExtensions = []string{".mp3", ".flac", ".m4a", ".wav", ".ogg", ".aac", ".wma"}
	defaultVideoExtensions = []string{".mp4", ".mkv", ".avi", ".mov", ".wmv", ".webm", ".m4v", ".mpg"}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
			ReportDir: defaultReportDir,
		},
		Content: Content{
			MusicDir:        defaultMusicDir,
			VideosDir:       defaultVideosDir,
			MoviesDir:       defaultMoviesDir,
			SeriesDir:       defaultSeriesDir,
			MusicExtensions: append([]string(nil), defaultMusicExtensions...),
			VideoExtensions: append([]string(nil), defaultVideoExtensions...),
		},
		Scheduler: Scheduler{
			TickInterval:        defaultTickInterval,
			RefreshInterval:     defaultRefreshInterval,
			HealthInterval:      defaultHealthInterval,
			OrderTimeout:        defaultOrderTimeout,
			QueueAlertThreshold: defaultQueueAlertThreshold,
		},
		Devices: Devices{
			MountRoots:     append([]string(nil), defaultMountRoots...),
			Filesystem:     defaultFilesystem,
			FormatEnabled:  true,
			EmptyRatio:     defaultEmptyRatio,
			CommandTimeout: defaultCommandTimeout,
			WatchUdev:      true,
		},
		Copy: Copy{
			Attempts:         defaultCopyAttempts,
			RetryDelay:       defaultCopyRetryDelay,
			MaxFileGiB:       defaultMaxFileGiB,
			MinVerifiedBytes: defaultMinVerifiedBytes,
			BufferKiB:        defaultBufferKiB,
		},
		Locator: Locator{
			CacheSize: defaultLocatorCacheSize,
			CacheTTL:  defaultLocatorCacheTTL,
		},
		Notifications: Notifications{
			RequestTimeout:     defaultNotifyRequestTimeout,
			Customer:           true,
			Alerts:             true,
			DedupWindowSeconds: defaultNotifyDedupWindow,
		},
		OrderAPI: OrderAPI{
			Timeout:          defaultOrderAPITimeout,
			MaxRetries:       defaultOrderAPIMaxRetries,
			RetryDelayMillis: defaultOrderAPIRetryDelayMS,
			PageSize:         defaultOrderAPIPageSize,
		},
		Metrics: Metrics{
			Enabled: true,
			Bind:    defaultMetricsBind,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
