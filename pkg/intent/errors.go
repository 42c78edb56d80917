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

package intent

import "errors"

var (
	ErrPrefixLength      = errors.New("prefix length must be between 0 and 32")
	ErrBadAddress        = errors.New("not an IPv4 address")
	ErrBadMAC            = errors.New("not a MAC address")
	ErrBadFieldValue     = errors.New("invalid match field value")
	ErrPriorityRequired  = errors.New("ACL rules require an explicit positive priority")
	ErrMissingTable      = errors.New("table name is required")
	ErrMissingField      = errors.New("match field name is required")
	ErrMissingAction     = errors.New("action name is required")
	ErrSessionIDRequired = errors.New("mirror session id is required")
	ErrNoReplicas        = errors.New("mirror session requires at least one replica")
	ErrUnknownIntentType = errors.New("unknown intent type")
)
