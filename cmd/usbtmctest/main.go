// Command usbtmctest runs the driver's named end-to-end scenarios
// (latency, bulk loopback, SRQ-via-interrupt, cancel-async-write,
// OUT-pipe halt recovery, timeout precision) against a real instrument.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "github.com/go-yaml/yaml"
)

var (
	// Version is injected via ldflags at build time.
	Version = "dev"

	// ConfigFileName is the YAML config file usbtmctest reads from and
	// writes to.
	ConfigFileName = "usbtmctest.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such") {
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	fmt.Println(`usbtmctest runs end-to-end scenarios against a real USBTMC instrument.

Usage:
	usbtmctest <command>

Commands:
	run
	help
	mkconf
	conf
	version`)
}

func help() {
	fmt.Println(`usbtmctest is configured via its .yaml file, same as this repo's other
command-line tools. Keys are not case-sensitive. "mkconf" writes the
default configuration; "scenario" may be one of: latency, loopback, srq,
cancel, halt-recovery, timeout-precision, or "all".`)
}

func mkconf() {
	c := DefaultConfig()
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := yml.NewEncoder(f).Encode(c); err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	if err := yml.NewEncoder(os.Stdout).Encode(c); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("usbtmctest version %v\n", Version)
}

func run() {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	if err := runScenarios(c); err != nil {
		log.Fatal(err)
	}
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	switch strings.ToLower(args[1]) {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run()
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
