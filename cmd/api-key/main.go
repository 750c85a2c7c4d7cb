package main

import (
	"flag"
	"os"

	"github.com/louisbranch/entityd/internal/platform/config"
	"github.com/louisbranch/entityd/internal/tools/apikey"
)

func main() {
	cfg, err := apikey.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := apikey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("generate key: %v", err)
	}
}
