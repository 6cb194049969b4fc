package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	path := flag.String("config", "cmd/radctl/config.toml", "daemon config path")
	flag.Parse()

	cfg := DefaultServiceConfig()
	if _, err := os.Stat(*path); err == nil {
		loaded, err := loadServiceConfig(*path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "radctl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc := NewService(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "radctl: %v\n", err)
		os.Exit(1)
	}
}
