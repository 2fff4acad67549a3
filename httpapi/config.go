package httpapi

// Config defines HTTP API settings.
type Config struct {
	Addr            string
	BasePath        string
	SessionCookie   string
	SessionTTLHours int
	// SessionFile persists sessions across restarts when set.
	SessionFile string
	// CookieSameSite is lax, strict, or none.
	CookieSameSite string
	CookieSecure   bool
	// AllowedOrigins are mirrored in CORS responses. Others get no CORS headers.
	AllowedOrigins []string
}
