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

import "errors"

var (
	// ErrBringUpFailed aggregates per-device bring-up failures; the message
	// names every device that did not come up.
	ErrBringUpFailed = errors.New("fleet bring-up failed")

	// ErrApplyFailed aggregates per-entry installation failures.
	ErrApplyFailed = errors.New("intent application failed")

	// ErrNoDevices rejects a configuration without any switches.
	ErrNoDevices = errors.New("at least one device is required")

	// ErrDuplicateDevice rejects two switches sharing a name.
	ErrDuplicateDevice = errors.New("duplicate device name")

	// ErrUnknownDevice rejects intents addressed to a switch the fleet does
	// not manage.
	ErrUnknownDevice = errors.New("unknown device")

	errP4InfoFileRequired       = errors.New("p4info_file is required")
	errDeviceConfigFileRequired = errors.New("device_config_file is required")
	errDeviceNameRequired       = errors.New("device name is required")
	errDeviceAddressRequired    = errors.New("device address is required")
)
