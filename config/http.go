package config

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// MaxConns caps concurrent connections accepted by the listener.
	MaxConns int `env:"HTTP_MAX_CONNS" envDefault:"256"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.MaxConns < 1 {
		h.MaxConns = 1
	}
}
