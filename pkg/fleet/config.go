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

package fleet

import (
	"fmt"
	"time"

	"github.com/carverauto/fabricwatch/pkg/device"
	"github.com/carverauto/fabricwatch/pkg/intent"
	"github.com/carverauto/fabricwatch/pkg/logger"
	"github.com/carverauto/fabricwatch/pkg/models"
)

const defaultBringUpTimeout = 30 * time.Second

// Config is the orchestrator's JSON configuration: the pipeline artifacts,
// the fleet layout and the per-device intents. Orchestration code carries no
// fleet literals; everything device-specific lives here.
type Config struct {
	P4InfoFile       string                   `json:"p4info_file"`
	DeviceConfigFile string                   `json:"device_config_file"`
	ECNThreshold     uint64                   `json:"ecn_threshold,omitempty"`
	Devices          []models.Device          `json:"devices"`
	Intents          map[string][]intent.Spec `json:"intents,omitempty"`
	ElectionID       device.ElectionID        `json:"election_id,omitempty"`
	BringUpTimeout   models.Duration          `json:"bringup_timeout,omitempty"`
	MaxRetries       int                      `json:"max_retries,omitempty"`
	Logging          *logger.Config           `json:"logging,omitempty"`
	Security         *models.SecurityConfig   `json:"security,omitempty"`
}

// Validate checks the fleet layout and rejects malformed intents before any
// device is dialed.
func (c *Config) Validate() error {
	if c.P4InfoFile == "" {
		return errP4InfoFileRequired
	}

	if c.DeviceConfigFile == "" {
		return errDeviceConfigFileRequired
	}

	if len(c.Devices) == 0 {
		return ErrNoDevices
	}

	names := make(map[string]struct{}, len(c.Devices))

	for i := range c.Devices {
		d := &c.Devices[i]

		if d.Name == "" {
			return fmt.Errorf("%w: device %d", errDeviceNameRequired, i)
		}

		if d.Address == "" {
			return fmt.Errorf("%w: device %q", errDeviceAddressRequired, d.Name)
		}

		if _, dup := names[d.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateDevice, d.Name)
		}

		names[d.Name] = struct{}{}
	}

	for name, specs := range c.Intents {
		if _, ok := names[name]; !ok {
			return fmt.Errorf("%w: intents for %q", ErrUnknownDevice, name)
		}

		for i := range specs {
			if _, err := specs[i].Intent(); err != nil {
				return fmt.Errorf("device %s intent %d: %w", name, i, err)
			}
		}
	}

	if c.ElectionID == (device.ElectionID{}) {
		c.ElectionID = device.ElectionID{Low: 1}
	}

	if c.BringUpTimeout == 0 {
		c.BringUpTimeout = models.Duration(defaultBringUpTimeout)
	}

	return nil
}

// fleetIntents materializes the configured intent specs, appending the
// congestion-check default action for every device when a threshold is set.
func (c *Config) fleetIntents() (map[string][]intent.Intent, error) {
	out := make(map[string][]intent.Intent, len(c.Devices))

	for name, specs := range c.Intents {
		list := make([]intent.Intent, 0, len(specs))

		for i := range specs {
			it, err := specs[i].Intent()
			if err != nil {
				return nil, fmt.Errorf("device %s intent %d: %w", name, i, err)
			}

			list = append(list, it)
		}

		out[name] = list
	}

	if c.ECNThreshold > 0 {
		for i := range c.Devices {
			name := c.Devices[i].Name
			out[name] = append(out[name], intent.MarkECNDefault(c.ECNThreshold))
		}
	}

	return out, nil
}
