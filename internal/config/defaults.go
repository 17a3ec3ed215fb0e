package config

func Defaults() *Config {
	return &Config{
		Source: SourceConfig{
			Kind: SourceDiscord,
		},
		Stream: StreamConfig{
			Host:                "127.0.0.1",
			Port:                8080,
			WriteTimeoutSeconds: 10,
			CloseDisplaced:      false,
		},
		Assets: AssetsConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8081,
			Dir:     "./static",
			Index:   "index.html",
			Metrics: true,
		},
		Journal: JournalConfig{
			Enabled:       true,
			DBPath:        "~/.discordrelay/journal.db",
			RetentionDays: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
