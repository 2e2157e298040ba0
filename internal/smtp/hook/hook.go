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
	"net"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/fauxmail/internal/models"
)

func init() {
	viper.SetDefault("hook.spf.enable", false)
	viper.SetDefault("hook.spf.reject", false)

	viper.SetDefault("hook.dnsbl.enable", false)
	viper.SetDefault("hook.dnsbl.reject", false)
	viper.SetDefault("hook.dnsbl.server", "zen.spamhaus.org")
}

// HeaderField is a single mail header, that is to be set as a result of a hook.
type HeaderField struct {
	Key   string
	Value string
}

// Result is the result of calling a hook on incoming mail.
type Result struct {
	// Reject indicates if the mail should not be accepted.
	Reject bool
	// Headers is a list of headers to be prepended to incoming mail, if it is not rejected.
	Headers []HeaderField
	// Code is the smtp reply code used on rejection.
	Code int
	// Text is the smtp reply text used on rejection.
	Text string
}

// FromHook is a hook called during `MAIL`. authenticated is true for sessions, that passed
// `AUTH`.
type FromHook func(ctx context.Context, authenticated bool, ip net.IP, from models.Address) (*Result, error)

// Options select the enabled hooks. By default hooks only annotate messages with headers.
type Options struct {
	SpfEnable   bool
	SpfReject   bool
	DnsblEnable bool
	DnsblReject bool
	DnsblServer string
}

// OptionsFromViper returns the hook options configured in viper.
func OptionsFromViper() Options {
	return Options{
		SpfEnable:   viper.GetBool("hook.spf.enable"),
		SpfReject:   viper.GetBool("hook.spf.reject"),
		DnsblEnable: viper.GetBool("hook.dnsbl.enable"),
		DnsblReject: viper.GetBool("hook.dnsbl.reject"),
		DnsblServer: viper.GetString("hook.dnsbl.server"),
	}
}

// FromHooks creates all enabled FromHook implementations.
func FromHooks(opts Options) []FromHook {
	var hooks []FromHook

	if opts.SpfEnable {
		hooks = append(hooks, makeSpfHook(opts.SpfReject, checkHost))
	}

	if opts.DnsblEnable {
		hooks = append(hooks, makeDnsblHook(opts.DnsblServer, opts.DnsblReject, net.LookupIP))
	}

	return hooks
}
