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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fabricwatch/pkg/device"
	"github.com/carverauto/fabricwatch/pkg/intent"
	"github.com/carverauto/fabricwatch/pkg/models"
)

func validConfig() *Config {
	return &Config{
		P4InfoFile:       "build/ecn.p4.p4info.txtpb",
		DeviceConfigFile: "build/ecn.json",
		Devices: []models.Device{
			{Name: "s1", Address: "127.0.0.1:50051", DeviceID: 0},
			{Name: "s2", Address: "127.0.0.1:50052", DeviceID: 1},
		},
	}
}

func TestConfigValidateDefaults(t *testing.T) {
	cfg := validConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, device.ElectionID{Low: 1}, cfg.ElectionID)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.BringUpTimeout))
}

func TestConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		expected error
	}{
		{
			name:     "missing p4info file",
			mutate:   func(c *Config) { c.P4InfoFile = "" },
			expected: errP4InfoFileRequired,
		},
		{
			name:     "missing device config file",
			mutate:   func(c *Config) { c.DeviceConfigFile = "" },
			expected: errDeviceConfigFileRequired,
		},
		{
			name:     "no devices",
			mutate:   func(c *Config) { c.Devices = nil },
			expected: ErrNoDevices,
		},
		{
			name:     "unnamed device",
			mutate:   func(c *Config) { c.Devices[0].Name = "" },
			expected: errDeviceNameRequired,
		},
		{
			name:     "device without address",
			mutate:   func(c *Config) { c.Devices[1].Address = "" },
			expected: errDeviceAddressRequired,
		},
		{
			name:     "duplicate device name",
			mutate:   func(c *Config) { c.Devices[1].Name = "s1" },
			expected: ErrDuplicateDevice,
		},
		{
			name: "intents for unknown device",
			mutate: func(c *Config) {
				c.Intents = map[string][]intent.Spec{"s9": {}}
			},
			expected: ErrUnknownDevice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), tt.expected)
		})
	}
}

func TestConfigValidateRejectsBadIntent(t *testing.T) {
	cfg := validConfig()

	var spec intent.Spec
	require.NoError(t, json.Unmarshal(
		[]byte(`{"type":"acl","table":"MyIngress.acl_ip_t","field":"hdr.ipv4.dstAddr","value":"10.0.1.4"}`), &spec))

	cfg.Intents = map[string][]intent.Spec{"s1": {spec}}

	err := cfg.Validate()
	require.ErrorIs(t, err, intent.ErrPriorityRequired)
	assert.Contains(t, err.Error(), "device s1 intent 0")
}

func TestConfigUnmarshal(t *testing.T) {
	raw := `{
		"p4info_file": "build/ecn.p4.p4info.txtpb",
		"device_config_file": "build/ecn.json",
		"ecn_threshold": 10,
		"bringup_timeout": "15s",
		"devices": [
			{"name": "s1", "address": "127.0.0.1:50051", "device_id": 0},
			{"name": "s2", "address": "127.0.0.1:50052", "device_id": 1}
		],
		"intents": {
			"s1": [
				{"type": "route", "dst_prefix": "10.0.2.0", "prefix_len": 24, "next_hop_mac": "08:00:00:00:02:00", "port": 3},
				{"type": "mirror", "session_id": 100, "replicas": [{"port": 252, "instance": 1}]}
			]
		},
		"logging": {"level": "debug"},
		"security": {"mode": "none"}
	}`

	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint64(10), cfg.ECNThreshold)
	assert.Equal(t, 15*time.Second, time.Duration(cfg.BringUpTimeout))
	assert.Len(t, cfg.Intents["s1"], 2)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestFleetIntentsAppendsThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.ECNThreshold = 10

	var spec intent.Spec
	require.NoError(t, json.Unmarshal(
		[]byte(`{"type":"route","dst_prefix":"10.0.2.0","prefix_len":24,"next_hop_mac":"08:00:00:00:02:00","port":3}`), &spec))

	cfg.Intents = map[string][]intent.Spec{"s1": {spec}}
	require.NoError(t, cfg.Validate())

	intents, err := cfg.fleetIntents()
	require.NoError(t, err)

	// Every device gets the congestion-check default action appended.
	require.Len(t, intents["s1"], 2)
	require.Len(t, intents["s2"], 1)

	da, ok := intents["s2"][0].(intent.DefaultAction)
	require.True(t, ok)
	assert.Equal(t, uint64(10), da.Params["ecn_threshold"])
}

func TestFleetIntentsNoThreshold(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	intents, err := cfg.fleetIntents()
	require.NoError(t, err)
	assert.Empty(t, intents)
}
