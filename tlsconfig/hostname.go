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
	"strings"

	"golang.org/x/net/idna"
)

// EncodeHostname converts an internationalized hostname to its IDNA
// ASCII-compatible form, the form used in SNI and in certificate DNS names.
func EncodeHostname(name string) (string, error) {
	return idna.Lookup.ToASCII(name)
}

// MatchHostname reports whether host matches the identity described by the
// certificate's DNS subject alternative names, falling back to the common
// name only when there are no alternative names. host must already be in
// IDNA ASCII form. Matching follows RFC 6125: case-insensitive, with a
// single leading wildcard label matching exactly one label.
//
// MatchHostname is a pure function with no side effects.
func MatchHostname(altNames []string, commonName, host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return false
	}
	names := altNames
	if len(names) == 0 && commonName != "" {
		names = []string{commonName}
	}
	for _, name := range names {
		if matchOneName(strings.ToLower(strings.TrimSuffix(name, ".")), host) {
			return true
		}
	}
	return false
}

func matchOneName(pattern, host string) bool {
	if pattern == "" {
		return false
	}
	if !strings.HasPrefix(pattern, "*.") {
		return pattern == host
	}
	rest := pattern[2:]
	if rest == "" || strings.Contains(rest, "*") {
		return false
	}
	// The wildcard covers exactly one label: a.example.com matches
	// *.example.com, a.b.example.com and example.com do not.
	dot := strings.IndexByte(host, '.')
	if dot <= 0 {
		return false
	}
	return host[dot+1:] == rest
}
