package config

// Overrides are command-line values applied on top of the config file.
// Zero values leave the file setting alone.
type Overrides struct {
	ConfigPath  string
	Debug       bool
	LogFile     string
	MaxVertices int
	Workers     int
	Query       string
}

// apply applies CLI flag overrides to the config.
func (o Overrides) apply(cfg *Config) {
	if o.Debug {
		cfg.Logging.Level = "debug"
	}
	if o.LogFile != "" {
		cfg.Logging.LogFile = o.LogFile
	}
	if o.MaxVertices > 0 {
		cfg.Retarget.MaxVertices = o.MaxVertices
	}
	if o.Workers > 0 {
		cfg.Retarget.Workers = o.Workers
	}
	if o.Query != "" {
		cfg.Retarget.Query = o.Query
	}
}
