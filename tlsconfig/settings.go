// MIT License
//
// Copyright (c) 2023 TTBT Enterprises LLC
// Copyright (c) 2023 Robin Thellend <rthellend@rthellend.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package tlsconfig

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"
)

// Settings is the file-driven TLS configuration. It covers the policy knobs
// that operators tune; identities and callbacks are wired in code.
type Settings struct {
	// Version is the protocol version selector, e.g. "secure", "all", or
	// a specific version such as "TLSv1_2". The default is "secure".
	Version string `yaml:"version,omitempty"`
	// CipherSuites restricts the cipher suites, by engine suite name.
	CipherSuites []string `yaml:"cipherSuites,omitempty"`
	// ALPNProtos is the list of application protocols to advertise on
	// outgoing connections, e.g. h2, http/1.1.
	ALPNProtos []string `yaml:"alpnProtos,omitempty"`
	// ALPNSelect is the application protocol to prefer on incoming
	// connections.
	ALPNSelect string `yaml:"alpnSelect,omitempty"`
	// CAPath is a directory of trusted CA certificates.
	CAPath string `yaml:"caPath,omitempty"`
	// CAFile is a PEM bundle of trusted CA certificates.
	CAFile string `yaml:"caFile,omitempty"`
	// ClientCert is a file containing a client certificate and its
	// private key, presented on outgoing connections when the origin
	// server requests one.
	ClientCert string `yaml:"clientCert,omitempty"`
	// ServerName is the SNI value for outgoing connections.
	ServerName string `yaml:"serverName,omitempty"`
	// VerifyUpstream enables certificate and hostname verification of
	// origin servers. It requires ServerName.
	VerifyUpstream bool `yaml:"verifyUpstream,omitempty"`
	// KeyLogFile enables master secret recording to the named file. The
	// MITMTLS_SSLKEYLOGFILE and SSLKEYLOGFILE environment variables take
	// precedence.
	KeyLogFile string `yaml:"keyLogFile,omitempty"`
}

// ReadSettings reads and validates a yaml settings file. Unknown fields are
// rejected.
func ReadSettings(path string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var s Settings
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := s.Check(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &s, nil
}

// Check validates the settings.
func (s *Settings) Check() error {
	if s.Version != "" {
		if _, err := ParseVersion(s.Version); err != nil {
			return err
		}
	}
	if _, err := parseCipherSuites(s.CipherSuites); err != nil {
		return err
	}
	if len(s.ALPNProtos) > 0 {
		if _, err := EncodeProtocols(s.ALPNProtos); err != nil {
			return err
		}
	}
	if s.VerifyUpstream && s.ServerName == "" {
		return fmt.Errorf("%w: verifyUpstream requires serverName", ErrConfig)
	}
	return nil
}

// contextConfig converts the settings to a builder Config.
func (s *Settings) contextConfig() (Config, error) {
	cfg := Config{
		CipherSuites: s.CipherSuites,
	}
	if s.Version != "" {
		v, err := ParseVersion(s.Version)
		if err != nil {
			return Config{}, err
		}
		cfg.Version = v
	}
	if s.CAPath != "" || s.CAFile != "" {
		cfg.TrustStore = &TrustStore{CAPath: s.CAPath, CAFile: s.CAFile}
	}
	if r := NewRecorderFromEnv(); r != nil {
		cfg.Recorder = r
	} else if s.KeyLogFile != "" {
		cfg.Recorder = NewRecorder(s.KeyLogFile)
	}
	return cfg, nil
}

// ClientConfig converts the settings to the configuration of the outgoing
// leg.
func (s *Settings) ClientConfig() (ClientConfig, error) {
	cfg, err := s.contextConfig()
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.ALPN = ALPNConfig{Protos: s.ALPNProtos}
	if s.VerifyUpstream {
		cfg.VerifyMode = VerifyPeer
	}
	return ClientConfig{
		Config:     cfg,
		Cert:       s.ClientCert,
		ServerName: s.ServerName,
	}, nil
}

// ServerConfig converts the settings to the configuration of the incoming
// leg. The identity is supplied by the caller.
func (s *Settings) ServerConfig(identity ServerIdentity, selector IdentitySelector) (ServerConfig, error) {
	cfg, err := s.contextConfig()
	if err != nil {
		return ServerConfig{}, err
	}
	cfg.ALPN = ALPNConfig{Select: s.ALPNSelect}
	return ServerConfig{
		Config:         cfg,
		Identity:       identity,
		SelectIdentity: selector,
	}, nil
}
