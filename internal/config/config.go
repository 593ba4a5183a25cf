package config // package config loads application configuration from environment variables

import (
    "log"      // log is used to report configuration errors and halt execution
    "os"       // os provides access to environment variables
    "strconv"  // strconv converts strings to other types
    "time"     // time parses duration-valued settings
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, ints for durations and costs.
type Config struct {
    Env            string // application environment (e.g. "dev", "prod")
    Port           string // HTTP port to listen on
    DBUser         string // database username
    DBPass         string // database password (optional)
    DBHost         string // database host address
    DBPort         string // database port number
    DBName         string // database name
    JWTSecret      string // secret used to sign JWTs
    AccessTTLMin   int    // access token time‑to‑live in minutes
    RefreshTTLDays int    // refresh token time‑to‑live in days
    BcryptCost     int    // bcrypt cost for password hashing

    RosbridgeURL       string        // websocket URL of the robot's rosbridge server
    RosbridgeReconnect time.Duration // fixed interval between reconnect attempts
    AdmissionPolicy    string        // "lastwins" or "strict" tour admission
    MuseumName         string        // display name used in generated narration

    GeminiAPIKey      string        // generative-language API key (empty disables generation)
    GeminiModel       string        // model identifier for narration requests
    NarrationCacheTTL time.Duration // lifetime of cached narrations in Redis
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.  Robot and narration
// settings are optional and fall back to sensible defaults so the server
// can run against a simulator with no extra setup.
func Load() Config {
    return Config{
        Env:            must("APP_ENV"),             // environment (dev/test/prod)
        Port:           must("APP_PORT"),            // port to bind the HTTP server
        DBUser:         must("DB_USER"),             // database user
        DBPass:         os.Getenv("DB_PASS"),        // database password (empty allowed)
        DBHost:         must("DB_HOST"),             // database host
        DBPort:         must("DB_PORT"),             // database port
        DBName:         must("DB_NAME"),             // database name
        JWTSecret:      must("JWT_SECRET"),          // secret used for signing JWTs
        AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),   // TTL for access tokens in minutes
        RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"), // TTL for refresh tokens in days
        BcryptCost:     mustInt("BCRYPT_COST"),      // bcrypt cost factor

        RosbridgeURL:       getenv("ROSBRIDGE_URL", "ws://localhost:9090"),
        RosbridgeReconnect: envDur("ROSBRIDGE_RECONNECT_INTERVAL", 30*time.Second),
        AdmissionPolicy:    getenv("ADMISSION_POLICY", "lastwins"),
        MuseumName:         getenv("MUSEUM_NAME", "the museum"),

        GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"), // empty means fallback narration only
        GeminiModel:       getenv("GEMINI_MODEL", "gemini-1.5-flash"),
        NarrationCacheTTL: envDur("NARRATION_CACHE_TTL", 24*time.Hour),
    }
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
    s := must(key)
    n, err := strconv.Atoi(s)
    if err != nil {
        log.Fatalf("invalid int for %s: %q", key, s)
    }
    return n
}
