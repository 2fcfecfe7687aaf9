package main

import (
	"flag"
	"fmt"
	"os"

	"git.nspix.com/golang/kos"
	"github.com/uole/dbridge"
	"github.com/uole/dbridge/config"
	"github.com/uole/dbridge/version"
)

var (
	configFlag = flag.String("config", "dbridge.yaml", "Config file path")
)

func main() {
	flag.Parse()
	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	svr := kos.Init(
		kos.WithName("github.com/uole/dbridge", version.Version),
		kos.WithServer(dbridge.New(cfg)),
	)
	if err = svr.Run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
