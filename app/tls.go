package chatrooms

import "crypto/tls"

// https://github.com/ssllabs/research/wiki/ssl-and-tls-deployment-best-practices
var defaultTLSConfig = tls.Config{
	MinVersion: tls.VersionTLS12,
	CurvePreferences: []tls.CurveID{
		tls.X25519,
		tls.CurveP384,
		tls.CurveP256,
	},
	CipherSuites: []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	},
}

func (c *Config) tlsEnabled() bool {
	return c.TLS.Crt != "" && c.TLS.Key != ""
}
