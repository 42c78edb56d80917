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
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/carverauto/fabricwatch/pkg/logger"
	"github.com/carverauto/fabricwatch/pkg/models"
)

const (
	SecurityModeNone   models.SecurityMode = "none"
	SecurityModeSpiffe models.SecurityMode = "spiffe"
	SecurityModeMTLS   models.SecurityMode = "mtls"
)

// SecurityProvider supplies client transport credentials for device
// control channels.
type SecurityProvider interface {
	GetClientCredentials(ctx context.Context) (grpc.DialOption, error)
	Close() error
}

// NoSecurityProvider implements SecurityProvider with no security
// (development only).
type NoSecurityProvider struct {
	logger logger.Logger
}

func (*NoSecurityProvider) GetClientCredentials(context.Context) (grpc.DialOption, error) {
	return grpc.WithTransportCredentials(insecure.NewCredentials()), nil
}

func (*NoSecurityProvider) Close() error {
	return nil
}

// MTLSProvider implements SecurityProvider with mutual TLS.
type MTLSProvider struct {
	config      *models.SecurityConfig
	clientCreds credentials.TransportCredentials
	logger      logger.Logger
}

// NewMTLSProvider creates a new MTLSProvider with the given configuration.
func NewMTLSProvider(config *models.SecurityConfig, log logger.Logger) (*MTLSProvider, error) {
	if config == nil {
		return nil, errSecurityConfigRequired
	}

	if config.TLS.CertFile == "" || config.TLS.KeyFile == "" || config.TLS.CAFile == "" {
		return nil, fmt.Errorf("%w: missing required TLS file paths in config", errSecurityConfigRequired)
	}

	creds, err := loadClientCredentials(config, log)
	if err != nil {
		return nil, err
	}

	return &MTLSProvider{config: config, clientCreds: creds, logger: log}, nil
}

func (p *MTLSProvider) GetClientCredentials(_ context.Context) (grpc.DialOption, error) {
	return grpc.WithTransportCredentials(p.clientCreds), nil
}

func (*MTLSProvider) Close() error {
	return nil
}

// loadClientCredentials loads client TLS credentials using paths from config.TLS.
func loadClientCredentials(config *models.SecurityConfig, log logger.Logger) (credentials.TransportCredentials, error) {
	certPath := normalizePath(config.TLS.CertFile, config.CertDir)
	keyPath := normalizePath(config.TLS.KeyFile, config.CertDir)
	caPath := normalizePath(config.TLS.CAFile, config.CertDir)

	log.Info().
		Str("certPath", certPath).
		Str("keyPath", keyPath).
		Str("caPath", caPath).
		Msg("Loading client certificate")

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToLoadClientCert, err)
	}

	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToReadCACert, err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("%w: failed to parse CA certificate from %s", errFailedToAppendCACert, caPath)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		ServerName:   config.ServerName,
		MinVersion:   tls.VersionTLS13,
	}

	return credentials.NewTLS(tlsConfig), nil
}

func normalizePath(path, certDir string) string {
	if path == "" || filepath.IsAbs(path) || certDir == "" {
		return path
	}

	return filepath.Join(certDir, path)
}

// SpiffeProvider implements SecurityProvider using the SPIFFE workload API.
type SpiffeProvider struct {
	config         *models.SecurityConfig
	client         *workloadapi.Client
	source         *workloadapi.X509Source
	trustDomain    spiffeid.TrustDomain
	serverID       spiffeid.ID
	hasTrustDomain bool
	hasServerID    bool
	closeOnce      sync.Once
	logger         logger.Logger
}

func NewSpiffeProvider(ctx context.Context, config *models.SecurityConfig, log logger.Logger) (*SpiffeProvider, error) {
	if config.WorkloadSocket == "" {
		config.WorkloadSocket = "unix:/run/spire/sockets/agent.sock"
	}

	client, err := workloadapi.New(ctx, workloadapi.WithAddr(config.WorkloadSocket))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedWorkloadAPIClient, err)
	}

	source, err := workloadapi.NewX509Source(ctx, workloadapi.WithClient(client))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", errFailedToCreateX509Source, err)
	}

	provider := &SpiffeProvider{
		config: config,
		client: client,
		source: source,
		logger: log,
	}

	if td := strings.TrimSpace(config.TrustDomain); td != "" {
		trustDomain, parseErr := parseTrustDomain(td)
		if parseErr != nil {
			_ = provider.Close()
			return nil, fmt.Errorf("%w: %w", errInvalidTrustDomain, parseErr)
		}

		provider.trustDomain = trustDomain
		provider.hasTrustDomain = true
	}

	if idStr := strings.TrimSpace(config.ServerSPIFFEID); idStr != "" {
		serverID, parseErr := spiffeid.FromString(idStr)
		if parseErr != nil {
			_ = provider.Close()
			return nil, fmt.Errorf("%w: %w", errInvalidServerSPIFFEID, parseErr)
		}

		provider.serverID = serverID
		provider.hasServerID = true
	}

	return provider, nil
}

func parseTrustDomain(td string) (spiffeid.TrustDomain, error) {
	if strings.Contains(td, "://") {
		id, err := spiffeid.FromString(td)
		if err != nil {
			return spiffeid.TrustDomain{}, err
		}

		return id.TrustDomain(), nil
	}

	return spiffeid.TrustDomainFromString(td)
}

func (p *SpiffeProvider) GetClientCredentials(_ context.Context) (grpc.DialOption, error) {
	authorizer := tlsconfig.AuthorizeAny()

	if p.hasServerID {
		authorizer = tlsconfig.AuthorizeID(p.serverID)
	} else if p.hasTrustDomain {
		authorizer = tlsconfig.AuthorizeMemberOf(p.trustDomain)
		p.logger.Warn().Msg("SPIFFE client credentials using trust domain membership authorizer; set server_spiffe_id for stricter verification")
	} else {
		p.logger.Warn().Msg("SPIFFE client credentials have no server_spiffe_id or trust_domain; allowing any SPIFFE endpoint")
	}

	tlsConfig := tlsconfig.MTLSClientConfig(p.source, p.source, authorizer)

	return grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)), nil
}

func (p *SpiffeProvider) Close() error {
	var err error

	p.closeOnce.Do(func() {
		if p.source != nil {
			if e := p.source.Close(); e != nil {
				p.logger.Error().Err(e).Msg("Failed to close X.509 source")

				err = e
			}
		}

		if p.client != nil {
			if e := p.client.Close(); e != nil {
				p.logger.Error().Err(e).Msg("Failed to close workload client")

				err = e
			}
		}
	})

	return err
}

// NewSecurityProvider creates the appropriate security provider based on mode.
func NewSecurityProvider(ctx context.Context, config *models.SecurityConfig, log logger.Logger) (SecurityProvider, error) {
	if config == nil || config.Mode == "" {
		log.Warn().Msg("SECURITY WARNING: No security config provided, using no security")

		return &NoSecurityProvider{logger: log}, nil
	}

	mode := models.SecurityMode(strings.ToLower(string(config.Mode)))

	log.Info().Str("mode", string(mode)).Msg("Creating security provider")

	switch mode {
	case SecurityModeNone:
		return &NoSecurityProvider{logger: log}, nil
	case SecurityModeMTLS:
		provider, err := NewMTLSProvider(config, log)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errFailedToCreateMTLSProvider, err)
		}

		return provider, nil
	case SecurityModeSpiffe:
		return NewSpiffeProvider(ctx, config, log)
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownSecurityMode, config.Mode)
	}
}
