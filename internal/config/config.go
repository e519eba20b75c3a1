package config

// Config holds the application configuration resolved from the environment.
type Config struct {
	// Database settings. Driver is "postgres" or "sqlite".
	Driver     string
	SQLitePath string

	PGHost     string
	PGPort     string
	PGUser     string
	PGPassword string
	PGDatabase string

	// CuratedYears are the registration years whose make/model data is
	// treated as ground truth for the canonical hierarchy.
	CuratedYears []int

	// Web server settings.
	ServerHost string
	ServerPort int

	// Fuzzy suggester settings.
	FuzzyMaxEditDistance int
	FuzzyMinTermLength   int

	// Debug enables verbose per-operation logging.
	Debug bool
}

// Load reads the configuration from the environment, applying defaults.
func Load() *Config {
	LoadEnv()

	return &Config{
		Driver:     GetEnv("DB_DRIVER", "postgres"),
		SQLitePath: GetEnv("SQLITE_PATH", "regcanon.db"),

		PGHost:     GetEnv("PGHOST", "localhost"),
		PGPort:     GetEnv("PGPORT", "5432"),
		PGUser:     GetEnv("PGUSER", "user"),
		PGPassword: GetEnv("PGPASSWORD", "password"),
		PGDatabase: GetEnv("PGDATABASE", "regcanon"),

		CuratedYears: GetEnvIntSlice("CURATED_YEARS", nil),

		ServerHost: GetEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort: GetEnvInt("SERVER_PORT", 8080),

		FuzzyMaxEditDistance: GetEnvInt("FUZZY_MAX_EDIT_DISTANCE", 2),
		FuzzyMinTermLength:   GetEnvInt("FUZZY_MIN_TERM_LENGTH", 3),

		Debug: GetEnvBool("DEBUG", false),
	}
}
