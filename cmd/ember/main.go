package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"

	"github.com/emberemu/ember/emu"
	"github.com/emberemu/ember/flash"
	"github.com/emberemu/ember/gui"
)

const configFile = "ember.json"

// savedConfig is the handful of settings worth remembering between runs.
type savedConfig struct {
	Boot1 string `json:"boot1"`
	Flash string `json:"flash"`
}

func configFolder() *configdir.Config {
	dirs := configdir.New("", "ember")
	if folder := dirs.QueryFolderContainsFile(configFile); folder != nil {
		return folder
	}
	return dirs.QueryFolders(configdir.Global)[0]
}

func loadSaved() savedConfig {
	var saved savedConfig
	data, err := configFolder().ReadFile(configFile)
	if err == nil {
		json.Unmarshal(data, &saved)
	}
	return saved
}

func storeSaved(saved savedConfig) {
	data, err := json.MarshalIndent(&saved, "", "  ")
	if err == nil {
		configFolder().WriteFile(configFile, data)
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	if err, ok := err.(stackTracer); ok {
		for _, f := range err.StackTrace() {
			fmt.Fprintf(os.Stderr, "  %+v\n", f)
		}
	}
}

func parseBootOrder(s string) (flash.BootOrder, error) {
	switch s {
	case "", "default":
		return flash.OrderDefault, nil
	case "boot2":
		return flash.OrderBoot2, nil
	case "diags":
		return flash.OrderDiags, nil
	}
	return 0, errors.Errorf("unknown boot order %q", s)
}

func run() error {
	fs := flag.NewFlagSet("ember", flag.ExitOnError)
	boot1 := fs.String("boot1", "", "path to the boot1 image")
	flashPath := fs.String("flash", "", "path to the flash image")
	resume := fs.String("resume", "", "resume from a snapshot file")
	suspend := fs.String("suspend", "", "write a snapshot to this file on exit")
	order := fs.String("boot-order", "default", "boot order: default, boot2, diags")
	gdbPort := fs.Int("gdb", 0, "listen for gdb on this localhost port")
	rdbgPort := fs.Int("rdbg", 0, "listen for the remote console on this localhost port")
	turbo := fs.Bool("turbo", false, "run unthrottled")
	debugger := fs.Bool("debug", false, "open the interactive debugger console")
	debugOnStart := fs.Bool("debug-on-start", false, "break before the first instruction")
	debugOnWarn := fs.Bool("debug-on-warn", false, "break on emulation warnings")
	remember := fs.Bool("remember", true, "remember image paths for the next run")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	saved := loadSaved()
	if *boot1 == "" {
		*boot1 = saved.Boot1
	}
	if *flashPath == "" {
		*flashPath = saved.Flash
	}
	if *flashPath == "" && *resume == "" {
		fs.Usage()
		return errors.New("a flash image (-flash) or a snapshot (-resume) is required")
	}

	bootOrder, err := parseBootOrder(*order)
	if err != nil {
		return err
	}

	m := emu.NewMachine(emu.Config{
		PathBoot1:    *boot1,
		PathFlash:    *flashPath,
		BootOrder:    bootOrder,
		SnapshotPath: *resume,
		PortGDB:      *gdbPort,
		PortRDBG:     *rdbgPort,
		Turbo:        *turbo,
		Debugger:     *debugger,
		DebugOnStart: *debugOnStart,
		DebugOnWarn:  *debugOnWarn,
		Frontend:     gui.NewConsole(),
	})
	if err := m.Start(); err != nil {
		return err
	}
	defer m.Cleanup()

	if *remember {
		storeSaved(savedConfig{Boot1: *boot1, Flash: *flashPath})
	}

	m.Run(*resume == "")

	if *suspend != "" {
		if err := m.Suspend(*suspend); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		printError(err)
		os.Exit(1)
	}
}
