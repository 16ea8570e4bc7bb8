package main

import (
	"flag"
	"log"

	"github.com/danmuck/lagom/internal/config"
)

func main() {
	kind := flag.String("kind", config.KindDaemon, "config kind: daemon|fixture")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing fixture file")
	input := flag.String("input", "", "fixture path for validation (defaults to cmd/simctl/fixture.toml)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = "cmd/simctl/fixture.toml"
		}
		f, err := config.LoadFixture(path)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated fixture at %s: %d participants, %d relationships",
			path, len(f.Participants), len(f.Relationships))
		return
	}

	target := *output
	if target == "" {
		switch *kind {
		case config.KindDaemon:
			target = "cmd/lagomd/config.toml"
		case config.KindFixture:
			target = "cmd/simctl/fixture.toml"
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
