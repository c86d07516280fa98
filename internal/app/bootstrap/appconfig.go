// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration (ports, TLS, log level and
// the like live in CoreConfig).
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64 // Max connection pool size
	MongoMinPoolSize uint64 // Min connection pool size

	// Anonymous identity configuration
	SessionKey    string // Secret key for signing the anonymous-id cookie
	SessionName   string // Cookie name (default: podhub-anon)
	SessionDomain string // Cookie domain (blank means current host)

	// Store operation timeouts
	TimeoutShort  time.Duration // single-document reads
	TimeoutMedium time.Duration // list queries, simple writes
	TimeoutLong   time.Duration // matchmaking (multi-collection writes)

	// Background maintenance
	SweepInterval time.Duration // how often expired pods are deactivated (0 disables the sweep)
}
