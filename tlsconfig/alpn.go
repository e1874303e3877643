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
	"slices"

	"golang.org/x/crypto/cryptobyte"
)

// ALPNConfig describes how a context participates in application protocol
// negotiation. At most one of the three forms may be used:
//
//   - Protos advertises the supported protocols. This is the client-role
//     form and takes precedence over the other two.
//   - Select names the protocol the server prefers. If the client did not
//     offer it, the client's first offered protocol is chosen instead.
//   - SelectCallback delegates the choice to the caller. It receives the
//     client's offered protocols and returns the selected one.
//
// Select and SelectCallback are mutually exclusive.
type ALPNConfig struct {
	Protos         []string
	Select         string
	SelectCallback func(offered []string) string
}

func (a ALPNConfig) check() error {
	if a.Select != "" && a.SelectCallback != nil {
		return fmt.Errorf("%w: only define Select (string) OR SelectCallback (function)", ErrALPNConfig)
	}
	if len(a.Protos) > 0 {
		if _, err := EncodeProtocols(a.Protos); err != nil {
			return err
		}
	}
	return nil
}

func (a ALPNConfig) selectProto(offered []string) string {
	if a.SelectCallback != nil {
		return a.SelectCallback(offered)
	}
	if slices.Contains(offered, a.Select) {
		return a.Select
	}
	if len(offered) > 0 {
		return offered[0]
	}
	return ""
}

// EncodeProtocols encodes a protocol list in the ALPN wire format: a 16-bit
// length-prefixed list of 8-bit length-prefixed protocol names. It also
// serves as validation; a name that cannot be encoded is an ErrALPNConfig.
func EncodeProtocols(protos []string) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, p := range protos {
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddBytes([]byte(p))
			})
		}
	})
	for _, p := range protos {
		if len(p) == 0 || len(p) > 255 {
			return nil, fmt.Errorf("%w: invalid protocol identifier %q", ErrALPNConfig, p)
		}
	}
	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrALPNConfig, err)
	}
	return out, nil
}

// DecodeProtocols parses an ALPN wire-format protocol list.
func DecodeProtocols(b []byte) ([]string, error) {
	s := cryptobyte.String(b)
	var list cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&list) || !s.Empty() {
		return nil, fmt.Errorf("%w: malformed protocol list", ErrALPNConfig)
	}
	var protos []string
	for !list.Empty() {
		var p cryptobyte.String
		if !list.ReadUint8LengthPrefixed(&p) || len(p) == 0 {
			return nil, fmt.Errorf("%w: malformed protocol list", ErrALPNConfig)
		}
		protos = append(protos, string(p))
	}
	return protos, nil
}
