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

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/fauxmail/internal/log"
	"github.com/lukasdietrich/fauxmail/internal/storage"
)

const usageText = `
Usage:
  fauxmail [OPTIONS] COMMAND

  Capture every mail and deliver none.

Version:
  %s

Commands:
  start     Start the smtp, http and pop3 servers
  shell     Start an interactive administration shell

Options:
%s
`

var (
	// Version is set at compile-time.
	Version string
)

// legacyEnv maps the environment variables of earlier releases to configuration keys.
var legacyEnv = map[string]string{
	"http.address":              "FAUXMAIL_ADDR",
	"smtp.address":              "FAUXMAIL_SMTP_ADDR",
	"smtp.user":                 "FAUXMAIL_SMTP_USER",
	"smtp.pass":                 "FAUXMAIL_SMTP_PASS",
	"storage.database.filename": "FAUXMAIL_DATABASE",
}

func init() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.pretty", false)
}

func main() {
	var configFilename string

	flags := pflag.NewFlagSet("fauxmail", pflag.ContinueOnError)
	flags.StringVarP(&configFilename, "config", "c", "", "Path to a configuration file")
	flags.Usage = printUsage(flags)

	if err := flags.Parse(os.Args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}

		log.Fatal().Err(err).Msg("could not parse flags")
	}

	switch commandName := flags.Arg(1); commandName {
	case "start", "shell":
		setupConfig(configFilename)
		setupLogger()
		printConfig()
		runCommand(commandName)
	default:
		flags.Usage()
	}
}

type command interface {
	run() error
}

func runCommand(commandName string) {
	var (
		cmd     command
		cleanup func()
		err     error
	)

	switch commandName {
	case "start":
		cmd, cleanup, err = newStartCommand()
	case "shell":
		cmd, cleanup, err = newShellCommand()
	}

	if err != nil {
		log.Fatal().Err(err).Msg("could not initialize the application")
	}

	defer cleanup()

	if err := cmd.run(); err != nil {
		log.Error().Err(err).Msg("command failed")
		cleanup()
		os.Exit(1)
	}
}

func printUsage(flags *pflag.FlagSet) func() {
	return func() {
		fmt.Fprintf(os.Stderr, usageText,
			Version,
			flags.FlagUsages())
	}
}

func setupLogger() {
	level := viper.GetString("log.level")

	if err := log.Setup(os.Stderr, level, viper.GetBool("log.pretty")); err != nil {
		log.Fatal().Err(err).Str("level", level).Msg("unknown log level")
	}

	log.Info().Str("level", level).Msg("log level set")
}

func setupConfig(filename string) {
	viper.SetTypeByDefaultValue(true)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix("FAUXMAIL")

	bindLegacyEnv()

	if filename != "" {
		readConfig(filename)
	} else {
		log.Info().Msg("no config file provided. using environment only")
	}
}

func bindLegacyEnv() {
	// the prefixed name derived from the key is looked up first by AutomaticEnv
	for key, env := range legacyEnv {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatal().Err(err).Str("key", key).Msg("could not bind environment")
		}
	}

	// a database path alone is enough to switch to the persistent backend
	if os.Getenv("FAUXMAIL_DATABASE") != "" && os.Getenv("FAUXMAIL_STORAGE_BACKEND") == "" {
		viper.SetDefault("storage.backend", string(storage.BackendSqlite))
	}
}

func readConfig(filename string) {
	log.Info().Str("filename", filename).Msg("loading configuration")
	viper.SetConfigFile(filename)

	if err := viper.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			log.Warn().Err(err).Msg("configuration file missing")
		} else {
			log.Fatal().Err(err).Msg("could not load configuration")
		}
	}
}

func printConfig() {
	keys := viper.AllKeys()
	sort.Strings(keys)

	for _, key := range keys {
		if key == "smtp.pass" {
			continue
		}

		v, _ := json.Marshal(viper.Get(key))
		log.Debug().Str("key", key).RawJSON("value", v).Msg("configuration")
	}
}
