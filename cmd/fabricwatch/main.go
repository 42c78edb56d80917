/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/carverauto/fabricwatch/pkg/config"
	"github.com/carverauto/fabricwatch/pkg/fleet"
	"github.com/carverauto/fabricwatch/pkg/lifecycle"
	"github.com/carverauto/fabricwatch/pkg/logger"
)

var errFailedToLoadConfig = errors.New("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	// Parse command line flags
	configPath := flag.String("config", "/etc/fabricwatch/fabricwatch.json", "Path to fleet config file")
	p4infoPath := flag.String("p4info", "", "Override path to the compiled p4info text file")
	bmv2Path := flag.String("bmv2-json", "", "Override path to the BMv2 device config")
	flag.Parse()

	ctx := context.Background()

	// Step 1: Load configuration
	cfgLoader := config.NewConfig(nil)

	var cfg fleet.Config

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	if *p4infoPath != "" {
		cfg.P4InfoFile = *p4infoPath
	}

	if *bmv2Path != "" {
		cfg.DeviceConfigFile = *bmv2Path
	}

	// Fail on missing pipeline artifacts before any switch is dialed.
	for _, path := range []string{cfg.P4InfoFile, cfg.DeviceConfigFile} {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("pipeline artifact %s: %w", path, err)
		}
	}

	// Step 2: Create logger from loaded config
	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = &logger.Config{
			Level:  "info",
			Output: "stdout",
		}
	}

	fleetLogger, err := lifecycle.CreateComponentLogger("fabricwatch", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	f, err := fleet.New(&cfg, fleetLogger)
	if err != nil {
		return err
	}

	return lifecycle.Run(ctx, &lifecycle.Options{
		ServiceName: "fabricwatch",
		Service:     f,
		Logger:      fleetLogger,
	})
}
