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

package p4info

import "errors"

var (
	// ErrUnknownName reports a table, action, field or parameter name that
	// does not exist in the loaded schema. This is a configuration error:
	// the forwarding program and the controller disagree on the contract.
	ErrUnknownName = errors.New("name not found in P4Info")

	errMalformedP4Info = errors.New("malformed P4Info")
)
