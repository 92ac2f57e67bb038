// Command sysmaster-rulesd loads and compiles the device-rule tree
// (§4.C11), standalone from the manager since it runs during early device
// bring-up before sysmasterd is reachable.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/gosv/sysmaster/internal/logging"
	"github.com/gosv/sysmaster/internal/rules"
)

func main() {
	rulesDir := flag.String("rules-dir", "/etc/sysmaster/rules.d", "directory containing .rules files")
	propsPath := flag.String("props", "", "optional JSON file of device properties to evaluate against the loaded rules")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := logging.New(os.Stderr, *debug)

	loader := rules.New(log)
	loaded, err := loader.Load(*rulesDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sysmaster-rulesd: %v\n", err)
		os.Exit(1)
	}
	compiled := rules.Compile(loaded)
	log.Info().Int("rules", len(loaded)).Str("dir", *rulesDir).Msg("rules compiled")

	if *propsPath == "" {
		return
	}

	data, err := os.ReadFile(*propsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sysmaster-rulesd: read props: %v\n", err)
		os.Exit(1)
	}
	var props map[string]string
	if err := json.Unmarshal(data, &props); err != nil {
		fmt.Fprintf(os.Stderr, "sysmaster-rulesd: parse props: %v\n", err)
		os.Exit(1)
	}

	actions := compiled.Evaluate(props)
	for _, a := range actions {
		fmt.Printf("%s%s %q\n", a.Key, a.Op, a.Value)
	}
}
