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

package grpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fabricwatch/pkg/logger"
	"github.com/carverauto/fabricwatch/pkg/models"
)

func TestNewClientRequiresAddress(t *testing.T) {
	_, err := NewClient(context.Background(), ClientConfig{})
	require.ErrorIs(t, err, errAddressRequired)
}

func TestNewClientLazyDial(t *testing.T) {
	// Dialing is lazy, so an unreachable address must not fail here.
	client, err := NewClient(context.Background(), ClientConfig{
		Address: "127.0.0.1:1",
		Logger:  logger.NewTestLogger(),
	})
	require.NoError(t, err)
	require.NotNil(t, client.GetConnection())

	require.NoError(t, client.Close())
	// Close is idempotent.
	require.NoError(t, client.Close())
}

func TestNoSecurityProviderCredentials(t *testing.T) {
	provider := &NoSecurityProvider{logger: logger.NewTestLogger()}

	opt, err := provider.GetClientCredentials(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, opt)

	require.NoError(t, provider.Close())
}

func TestNewSecurityProviderModes(t *testing.T) {
	log := logger.NewTestLogger()

	provider, err := NewSecurityProvider(context.Background(), &models.SecurityConfig{Mode: SecurityModeNone}, log)
	require.NoError(t, err)
	assert.IsType(t, &NoSecurityProvider{}, provider)

	_, err = NewSecurityProvider(context.Background(), &models.SecurityConfig{Mode: "carrier-pigeon"}, log)
	require.ErrorIs(t, err, errUnknownSecurityMode)
}
