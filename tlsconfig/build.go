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
	"crypto/tls"
	"fmt"
	"slices"
)

// Config describes one TLS context to build. It is consumed by Build and not
// retained afterwards.
type Config struct {
	// Version selects the protocol version policy. The zero value is
	// VersionSecure.
	Version Version
	// Options overrides the version's option bitmask when non-nil.
	Options *Options
	// TrustStore selects the trust anchors. Nil means the system default
	// trust bundle.
	TrustStore *TrustStore
	// CipherSuites restricts the cipher suites, by name as published in
	// the engine's suite tables, e.g. TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256.
	CipherSuites []string
	// ALPN configures application protocol negotiation.
	ALPN ALPNConfig
	// VerifyMode controls whether verification failures abort the
	// handshake.
	VerifyMode VerifyMode
	// VerifyCallback is invoked once per certificate during chain
	// verification, from the trust anchor toward the leaf.
	VerifyCallback VerifyCallback
	// Recorder, if non-nil, receives TLS session key material after each
	// handshake.
	Recorder *Recorder
	// CurvePreferences overrides the engine's key exchange group order.
	CurvePreferences []tls.CurveID

	role       role
	serverName string
	address    string
	clientAuth tls.ClientAuthType
}

// Build produces a ready-to-use Context. All failures are configuration
// errors; no network I/O happens here.
func (c Config) Build() (*Context, error) {
	ent, err := c.Version.entry()
	if err != nil {
		return nil, err
	}
	if !ent.method.supported() {
		return nil, fmt.Errorf("%w: SSL method %q is not supported or disabled (for security reasons) in the TLS engine",
			ErrUnsupportedProtocol, ent.method.name)
	}
	opts := ent.options
	if c.Options != nil {
		opts = *c.Options
	}

	tc := &tls.Config{
		MinVersion: ent.method.min,
		MaxVersion: ent.method.max,
	}
	rootCAs, err := c.TrustStore.Resolve()
	if err != nil {
		return nil, err
	}

	if len(c.CipherSuites) > 0 {
		ids, err := parseCipherSuites(c.CipherSuites)
		if err != nil {
			return nil, err
		}
		tc.CipherSuites = ids
	}
	if len(c.CurvePreferences) > 0 {
		tc.CurvePreferences = slices.Clone(c.CurvePreferences)
	}
	if c.Recorder != nil {
		tc.KeyLogWriter = c.Recorder
	}

	if err := c.ALPN.check(); err != nil {
		return nil, err
	}
	if len(c.ALPN.Protos) > 0 {
		// Advertise the supported protocols. Connections that declare
		// protocols are the client-role contexts.
		tc.NextProtos = slices.Clone(c.ALPN.Protos)
	}

	switch c.role {
	case roleClient:
		// Chain and hostname verification run in the verification
		// driver, which needs the preliminary result per chain
		// position; the engine's own one-shot verification is turned
		// off in its favor.
		tc.InsecureSkipVerify = true
		tc.ServerName = c.serverName
		tc.RootCAs = rootCAs
		// Renegotiation is retried by the engine instead of being
		// surfaced as a short read.
		tc.Renegotiation = tls.RenegotiateFreelyAsClient
	case roleServer:
		tc.ClientAuth = c.clientAuth
		tc.ClientCAs = rootCAs
	}

	return &Context{
		cfg:            tc,
		role:           c.role,
		version:        c.Version,
		options:        opts,
		verifyMode:     c.VerifyMode,
		verifyCallback: c.VerifyCallback,
		rootCAs:        rootCAs,
		alpn:           c.ALPN,
		serverName:     c.serverName,
		address:        c.address,
	}, nil
}

func parseCipherSuites(names []string) ([]uint16, error) {
	suites := tls.CipherSuites()
	insecure := tls.InsecureCipherSuites()
	ids := make([]uint16, 0, len(names))
find:
	for _, name := range names {
		for _, s := range suites {
			if s.Name == name {
				ids = append(ids, s.ID)
				continue find
			}
		}
		for _, s := range insecure {
			if s.Name == name {
				ids = append(ids, s.ID)
				continue find
			}
		}
		return nil, fmt.Errorf("%w: unknown cipher suite %q", ErrCipherSpec, name)
	}
	return ids, nil
}
