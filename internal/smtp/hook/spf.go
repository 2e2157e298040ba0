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
	"fmt"
	"net"

	"github.com/zaccone/spf"

	"github.com/lukasdietrich/fauxmail/internal/log"
	"github.com/lukasdietrich/fauxmail/internal/models"
)

type spfChecker func(ip net.IP, domain, sender string) (spf.Result, string, error)

func checkHost(ip net.IP, domain, sender string) (spf.Result, string, error) {
	return spf.CheckHost(ip, domain, sender)
}

func makeSpfHook(reject bool, check spfChecker) FromHook {
	log.Info().
		Bool("reject", reject).
		Msg("registering spf hook")

	return func(ctx context.Context, authenticated bool, ip net.IP, from models.Address) (*Result, error) {
		if authenticated || ip == nil {
			return &Result{}, nil
		}

		domain, err := models.DomainToASCII(from.Domain())
		if err != nil {
			log.DebugContext(ctx).
				Stringer("from", from).
				Err(err).
				Msg("could not convert domain to ascii")

			domain = from.Domain()
		}

		sender := from.LocalPart() + "@" + domain

		log.DebugContext(ctx).
			Str("sender", sender).
			Msg("looking up spf")

		result, _, err := check(ip, domain, sender)
		if err != nil {
			log.InfoContext(ctx).
				Stringer("from", from).
				Err(err).
				Msg("could not check spf")
		} else {
			log.DebugContext(ctx).
				Stringer("from", from).
				Stringer("result", result).
				Msg("spf result")
		}

		if reject && result == spf.Fail {
			return &Result{
				Reject: true,
				Code:   550,
				Text:   "5.7.23 spf check failed",
			}, nil
		}

		return &Result{
			Headers: []HeaderField{
				{
					Key: "Received-SPF",
					Value: fmt.Sprintf(
						"%s (with domain=%s of sender=%s) client-ip=%s;",
						result, domain, sender, ip),
				},
			},
		}, nil
	}
}
