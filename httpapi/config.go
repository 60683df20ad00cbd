package httpapi

// Config defines HTTP API settings.
type Config struct {
	Addr string
	// BasePath mounts the API under a prefix when served behind a proxy.
	BasePath string
	// SessionRatePerMinute bounds start and stop calls per user. Zero disables the limit.
	SessionRatePerMinute float64
	SessionRateBurst     int
}
