/*
	Waymark
	Copyright (c) 2024 Waymark contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package wmcmd facilitates the command line interface (CLI)
// and implements the main().
package wmcmd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/waymark/waymark/waymark"
	"github.com/waymark/waymark/wmapp"
	"go.uber.org/zap"
)

func Main() {
	cfg, err := loadConfigFile()
	if err != nil {
		waymark.Log.Fatal("failed loading config", zap.Error(err))
	}

	ctx := context.Background()

	app, err := wmapp.New(ctx, cfg)
	if err != nil {
		waymark.Log.Fatal("failed to run application", zap.Error(err))
	}

	flag.Parse()

	// implement standard (CLI-only) flags
	subCommand, subCommandFunc := getStandardSubcommand(app)
	if subCommandFunc != nil {
		if err := checkFlagParsing(); err != nil {
			waymark.Log.Fatal("possible syntax error detected", zap.Error(err))
		}
		if err := subCommandFunc(); err != nil {
			waymark.Log.Fatal("subcommand failed",
				zap.String("subcommand", subCommand),
				zap.Error(err))
		}
		return
	}

	// check for registered endpoint (API command)
	if remaining := flag.Args(); len(remaining) > 0 {
		if err := app.RunCommand(ctx, remaining); err != nil {
			waymark.Log.Fatal("subcommand failed", zap.Error(err))
		}
		return
	}

	// no command; start the application server
	wmapp.TrapSignals()
	startedServer, err := app.Serve()
	if err != nil {
		waymark.Log.Fatal("could not start server", zap.Error(err))
	}

	if startedServer {
		select {}
	}
}

// Gets CLI-only commands.
func getStandardSubcommand(app *wmapp.App) (string, func() error) {
	standardCommands := map[string]func() error{
		"serve": func() error {
			wmapp.TrapSignals()
			if err := app.MustServe(); err != nil {
				return err
			}
			select {}
		},
		"help": func() error { //nolint:unparam
			fmt.Println(app.CommandLineHelp())
			return nil
		},
		"version": func() error {
			fmt.Println(version)
			return nil
		},
	}

	if len(flag.Args()) > 0 {
		subCommand := flag.Arg(0)
		subCommandFunc, ok := standardCommands[subCommand]
		if ok {
			return subCommand, subCommandFunc
		}
	}
	return "", nil
}

// checkFlagParsing returns an error if it looks like the
// program may have been invoked with the flags in the
// wrong place; flags must come before positional arguments
// or the config variable won't be set properly. Only for use
// when a standard command (something that we recognize, not
// as part of the API) is present.
func checkFlagParsing() error {
	if len(os.Args) > 2 && flag.NFlag() == 0 {
		return errors.New("it looks like you intended to specify flags, but none were parsed; make sure flags go before positional arguments")
	}
	return nil
}

func loadConfigFile() (*wmapp.Config, error) {
	cfgBytes, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if configFile == wmapp.DefaultConfigFilePath() {
				err = nil
			}
			return new(wmapp.Config), err
		}
	}
	var cfg *wmapp.Config
	err = json.Unmarshal(cfgBytes, &cfg)
	return cfg, err
}

var configFile = wmapp.DefaultConfigFilePath()

// version is stamped at build time with -ldflags.
var version = "(devel)"
