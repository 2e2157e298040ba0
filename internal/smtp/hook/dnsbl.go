// Copyright (C) 2020  Lukas Dietrich <lukas@lukasdietrich.com>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package hook

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"

	"github.com/lukasdietrich/fauxmail/internal/log"
	"github.com/lukasdietrich/fauxmail/internal/models"
)

type ipLookup func(host string) ([]net.IP, error)

func makeDnsblHook(server string, reject bool, lookup ipLookup) FromHook {
	log.Info().
		Str("server", server).
		Bool("reject", reject).
		Msg("registering dnsbl hook")

	return func(ctx context.Context, authenticated bool, ip net.IP, _ models.Address) (*Result, error) {
		if authenticated || ip == nil {
			return &Result{}, nil
		}

		host := formatReverseIP(ip) + server

		log.DebugContext(ctx).
			Str("host", host).
			Msg("looking up dnsbl")

		records, err := lookup(host)
		if err != nil {
			var dnsErr *net.DNSError
			if !errors.As(err, &dnsErr) || !dnsErr.IsNotFound {
				return nil, fmt.Errorf("could not look up dnsbl: %w", err)
			}
		}

		if len(records) == 0 {
			return &Result{
				Headers: []HeaderField{
					{Key: "X-DNSBL", Value: fmt.Sprintf("clean (%s) client-ip=%s", server, ip)},
				},
			}, nil
		}

		log.InfoContext(ctx).
			Stringer("ip", ip).
			Msg("client is listed")

		if reject {
			return &Result{
				Reject: true,
				Code:   550,
				Text:   "5.7.1 client is listed at " + server,
			}, nil
		}

		return &Result{
			Headers: []HeaderField{
				{Key: "X-DNSBL", Value: fmt.Sprintf("listed (%s) client-ip=%s", server, ip)},
			},
		}, nil
	}
}

// formatReverseIP reverses an ip address to be used in a dnsbl lookup.
// The result ends in a trailing dot.
func formatReverseIP(ip net.IP) string {
	if ipv4 := ip.To4(); ipv4 != nil {
		// Reverse IPv4 octets (see RFC#5782 2.1.)

		const bufLen = len("255.255.255.255.")
		var (
			octs = make([]byte, bufLen)
			j    int
		)

		for i := 3; i >= 0; i-- {
			switch b := ipv4[i]; true {
			case b < 10:
				octs[j] = b + '0'
				j++

			case b < 100:
				octs[j] = b/10 + '0'
				octs[j+1] = b%10 + '0'
				j += 2

			default:
				octs[j] = b/100 + '0'
				octs[j+1] = (b/10)%10 + '0'
				octs[j+2] = b%10 + '0'
				j += 3
			}

			octs[j] = '.'
			j++
		}

		return string(octs[:j])
	}

	if ipv6 := ip.To16(); ipv6 != nil {
		// Reverse IPv6 nibbles (see RFC#5782 2.4.)

		const (
			hexLen = net.IPv6len * 2 // 1 byte = 2 hex letters
			bufLen = hexLen * 3      // original order + reverse order + dots
			offset = hexLen - 1      // offset for zero indexed reverse access
		)

		nibs := make([]byte, bufLen)
		hex.Encode(nibs, ipv6)

		for i := 0; i < hexLen; i++ {
			nibs[hexLen+i<<1] = nibs[offset-i]
			nibs[hexLen+i<<1+1] = '.'
		}

		return string(nibs[hexLen:])
	}

	return ""
}
