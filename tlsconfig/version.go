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
)

// Options is a bitmask of context options. The underlying engine disables
// compression and prefers the server's cipher order unconditionally; the
// corresponding bits are kept so that policy stays explicit and inspectable.
type Options uint32

const (
	OptCipherServerPreference Options = 1 << iota
	OptNoCompression
	OptNoSSLv2
	OptNoSSLv3
)

// BasicOptions are applied to every context.
const BasicOptions = OptCipherServerPreference | OptNoCompression

// DefaultOptions additionally disable the two legacy protocol versions.
const DefaultOptions = BasicOptions | OptNoSSLv2 | OptNoSSLv3

// Version selects a protocol version policy. The zero value is
// VersionSecure.
type Version int

const (
	// VersionSecure allows TLS 1.0 and newer.
	VersionSecure Version = iota
	// VersionAll allows every version the engine supports.
	VersionAll
	// The named versions pin the handshake to a single protocol version.
	VersionSSLv2
	VersionSSLv3
	VersionTLS10
	VersionTLS11
	VersionTLS12
	VersionTLS13
)

type method struct {
	name string
	// min and max are engine protocol versions. Both zero means the
	// engine does not implement the method at all.
	min, max uint16
}

func (m method) supported() bool {
	return m.min != 0 || m.max != 0
}

type versionEntry struct {
	selector string
	method   method
	options  Options
}

// The table is fixed at startup. SSLv2 and SSLv3 stay listed so that
// requesting them fails loudly instead of silently negotiating something
// else.
var versionTable = map[Version]versionEntry{
	VersionAll:    {"all", method{"SSLv23", tls.VersionTLS10, tls.VersionTLS13}, BasicOptions},
	VersionSecure: {"secure", method{"SSLv23", tls.VersionTLS10, tls.VersionTLS13}, DefaultOptions},
	VersionSSLv2:  {"SSLv2", method{"SSLv2", 0, 0}, BasicOptions},
	VersionSSLv3:  {"SSLv3", method{"SSLv3", 0, 0}, BasicOptions},
	VersionTLS10:  {"TLSv1", method{"TLSv1", tls.VersionTLS10, tls.VersionTLS10}, BasicOptions},
	VersionTLS11:  {"TLSv1_1", method{"TLSv1.1", tls.VersionTLS11, tls.VersionTLS11}, BasicOptions},
	VersionTLS12:  {"TLSv1_2", method{"TLSv1.2", tls.VersionTLS12, tls.VersionTLS12}, BasicOptions},
	VersionTLS13:  {"TLSv1_3", method{"TLSv1.3", tls.VersionTLS13, tls.VersionTLS13}, BasicOptions},
}

// Versions returns all defined version selectors.
func Versions() []Version {
	out := make([]Version, 0, len(versionTable))
	for v := range versionTable {
		out = append(out, v)
	}
	return out
}

// ParseVersion maps a version selector string to a Version.
func ParseVersion(s string) (Version, error) {
	for v, e := range versionTable {
		if e.selector == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown version %q", ErrConfig, s)
}

func (v Version) String() string {
	if e, ok := versionTable[v]; ok {
		return e.selector
	}
	return fmt.Sprintf("Version(%d)", int(v))
}

// DefaultOptions returns the option bitmask associated with the version
// selector.
func (v Version) DefaultOptions() Options {
	return versionTable[v].options
}

func (v Version) entry() (versionEntry, error) {
	e, ok := versionTable[v]
	if !ok {
		return versionEntry{}, fmt.Errorf("%w: unknown version %d", ErrUnsupportedProtocol, int(v))
	}
	return e, nil
}
