package main

import (
	"flag"
	"log"

	"github.com/danmuck/radlink/internal/config"
)

func defaultPath(kind string) string {
	switch kind {
	case "radctl":
		return "cmd/radctl/config.toml"
	case "device":
		return "cmd/radctl/device.toml"
	default:
		log.Fatalf("unknown kind: %s", kind)
		return ""
	}
}

func main() {
	kind := flag.String("kind", "radctl", "config kind: radctl|device")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing device profile")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		if *kind != "device" {
			log.Fatalf("validation supports kind=device only; radctl validates its own config on start")
		}
		cfg, err := config.LoadDeviceConfig(path)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated device profile %q at %s", cfg.Name, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
