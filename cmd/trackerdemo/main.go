// Command trackerdemo loads an items/locations pack from disk and exercises
// the tracker's query surface against it, replacing the teacher's own
// cmd/example as the module's runnable entry point.
package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	"github.com/gitrdm/trackercore/internal/script"
	"github.com/gitrdm/trackercore/pkg/tracker"
	"github.com/gitrdm/trackercore/pkg/trackercfg"
)

func main() {
	itemsPath := flag.String("items", "", "path to an items declaration blob")
	locationsPath := flag.String("locations", "", "path to a locations declaration blob")
	configPath := flag.String("config", "", "path to a trackercfg TOML file (optional)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg := trackercfg.Default()
	if *configPath != "" {
		loaded, err := trackercfg.Load(*configPath)
		if err != nil {
			log.Fatalw("loading config", "error", err)
		}
		cfg = loaded
	}

	t := tracker.New(log, cfg.DuplicatePolicy(), nil)
	host := script.NewGojaHost(log, t)
	t.SetScriptHost(host)

	t.OnChange(func(ev tracker.ChangeEvent) {
		log.Infow("state changed", "id", ev.ID)
	})

	if *itemsPath != "" {
		data, err := os.ReadFile(*itemsPath)
		if err != nil {
			log.Fatalw("reading items", "path", *itemsPath, "error", err)
		}
		if err := t.AddItems(data); err != nil {
			log.Fatalw("loading items", "error", err)
		}
	}
	if *locationsPath != "" {
		data, err := os.ReadFile(*locationsPath)
		if err != nil {
			log.Fatalw("reading locations", "path", *locationsPath, "error", err)
		}
		if err := t.AddLocations(data); err != nil {
			log.Fatalw("loading locations", "error", err)
		}
	}

	log.Infow("tracker ready", "provider_count(example)", t.ProviderCount("example"))
}
