//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/lukasdietrich/fauxmail/internal/api"
	"github.com/lukasdietrich/fauxmail/internal/crypto"
	"github.com/lukasdietrich/fauxmail/internal/delivery"
	"github.com/lukasdietrich/fauxmail/internal/pop3"
	"github.com/lukasdietrich/fauxmail/internal/smtp"
	"github.com/lukasdietrich/fauxmail/internal/storage"
)

var wireSet = wire.NewSet(
	wire.Struct(new(startCommand), "*"),
	wire.Struct(new(shellCommand), "*"),

	crypto.WireSet,
	storage.WireSet,
	delivery.WireSet,
	smtp.WireSet,
	pop3.WireSet,
	api.WireSet,
)

func newStartCommand() (*startCommand, func(), error) {
	panic(wire.Build(wireSet))
}

func newShellCommand() (*shellCommand, func(), error) {
	panic(wire.Build(wireSet))
}
