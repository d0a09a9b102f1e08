// Package tlsconfig builds the process-wide TLS client configuration used by
// the Client Engine, and the version/cipher-suite helpers it is tuned with.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"sync"
)

// Backend selects the root-of-trust source for outbound TLS connections.
// Go ships a single TLS stack (crypto/tls), so the "choice of TLS backend"
// called for by spec §4.4 is expressed here as a choice of trust source
// rather than a choice of TLS implementation.
type Backend int

const (
	// BackendSystemRoots verifies server certificates against the OS trust
	// store (the default for both "native" and "rustls-native-roots").
	BackendSystemRoots Backend = iota
	// BackendCustomRoots verifies against a caller-supplied certificate pool
	// (maps to "rustls-webpki" with an explicit root set).
	BackendCustomRoots
	// BackendInsecure skips verification entirely. Development only.
	BackendInsecure
)

// SSL/TLS protocol versions, exposed for callers tuning MinTLSVersion /
// MaxTLSVersion without importing crypto/tls directly.
const (
	VersionTLS10 uint16 = tls.VersionTLS10
	VersionTLS11 uint16 = tls.VersionTLS11
	VersionTLS12 uint16 = tls.VersionTLS12
	VersionTLS13 uint16 = tls.VersionTLS13
)

// Recommended cipher suites, ordered by security strength.
var (
	CipherSuitesTLS13 = []uint16{
		tls.TLS_AES_128_GCM_SHA256,
		tls.TLS_AES_256_GCM_SHA384,
		tls.TLS_CHACHA20_POLY1305_SHA256,
	}

	CipherSuitesTLS12Secure = []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	}
)

// GetVersionName returns a human-readable name for a TLS version constant.
func GetVersionName(version uint16) string {
	switch version {
	case VersionTLS10:
		return "TLS 1.0"
	case VersionTLS11:
		return "TLS 1.1"
	case VersionTLS12:
		return "TLS 1.2"
	case VersionTLS13:
		return "TLS 1.3"
	default:
		return "unknown"
	}
}

// Options configures one shared TLS client config. Two Options with the
// same Backend produce and cache the identical *tls.Config instance (see
// Shared below); callers needing genuinely different trust material must
// use distinct Backend values or call New directly.
type Options struct {
	Backend       Backend
	ServerName    string // SNI override; empty uses the dialed host
	CustomCACerts [][]byte
	MinVersion    uint16
	MaxVersion    uint16
	CipherSuites  []uint16

	// Mutual TLS client certificate, PEM-encoded.
	ClientCertPEM []byte
	ClientKeyPEM  []byte
}

// New builds a *tls.Config from Options. It never consults or populates the
// process-wide shared cache; use Shared for that.
func New(opts Options) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: opts.ServerName,
		MinVersion: opts.MinVersion,
		MaxVersion: opts.MaxVersion,
	}
	if opts.MinVersion == 0 {
		cfg.MinVersion = VersionTLS12
	}
	if len(opts.CipherSuites) > 0 {
		cfg.CipherSuites = opts.CipherSuites
	}

	switch opts.Backend {
	case BackendInsecure:
		cfg.InsecureSkipVerify = true
	case BackendCustomRoots:
		pool := x509.NewCertPool()
		for _, pem := range opts.CustomCACerts {
			pool.AppendCertsFromPEM(pem)
		}
		cfg.RootCAs = pool
	case BackendSystemRoots:
		// Leaving RootCAs nil makes crypto/tls consult the OS trust store.
	}

	if len(opts.ClientCertPEM) > 0 && len(opts.ClientKeyPEM) > 0 {
		cert, err := tls.X509KeyPair(opts.ClientCertPEM, opts.ClientKeyPEM)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// sharedConfigs memoizes one *tls.Config per distinct Backend, constructed
// once per process and never torn down (spec §4.4, §5, §9: "TLS
// configuration is shared during the complete process lifetime"). Per the
// Open Question in spec §9, concurrent use of distinct backends is handled
// by keying the cache on Backend rather than forbidding multiple backends.
var (
	sharedOnce sync.Map // map[Backend]*sync.Once
	sharedCfg  sync.Map // map[Backend]*tls.Config
)

// Shared returns the process-wide TLS config for opts.Backend, building it
// on first use with opts and reusing it (ignoring opts) on every subsequent
// call for that backend. Per-connection customization (e.g. a different
// ServerName) is applied by cloning the returned config before use.
func Shared(opts Options) (*tls.Config, error) {
	onceIface, _ := sharedOnce.LoadOrStore(opts.Backend, &sync.Once{})
	once := onceIface.(*sync.Once)

	var buildErr error
	once.Do(func() {
		cfg, err := New(opts)
		if err != nil {
			buildErr = err
			return
		}
		sharedCfg.Store(opts.Backend, cfg)
	})
	if buildErr != nil {
		return nil, buildErr
	}

	cfg, _ := sharedCfg.Load(opts.Backend)
	return cfg.(*tls.Config), nil
}

// WithServerName returns a shallow clone of cfg with ServerName set, used to
// apply SNI per-connection without mutating the shared instance.
func WithServerName(cfg *tls.Config, serverName string) *tls.Config {
	clone := cfg.Clone()
	clone.ServerName = serverName
	return clone
}
