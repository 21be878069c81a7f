// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package tunnel

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	cf "github.com/cloudflare/cloudflare-go"
	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/exechelper"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

// Cloudflarer is the slice of the Cloudflare API the provider consumes,
// satisfied by cloudflare-go and by the noop client.
type Cloudflarer interface {
	ListTunnels(ctx context.Context, rc *cf.ResourceContainer, params cf.TunnelListParams) ([]cf.Tunnel, *cf.ResultInfo, error)
	DeleteTunnel(ctx context.Context, rc *cf.ResourceContainer, tunnelID string) error
}

// CloudflareProvider tunnels via cloudflared. Quick tunnels need no account;
// when an API token and account id are configured, stale named tunnels are
// garbage collected through the Cloudflare API.
type CloudflareProvider struct {
	logger    log.FieldLogger
	api       Cloudflarer
	accountID string
	command   *commandProvider
}

// NewCloudflareProvider creates the provider. Credentials come from
// CLOUDFLARE_API_TOKEN and CLOUDFLARE_ACCOUNT_ID and are never logged; with
// no credentials the API features degrade to noop.
func NewCloudflareProvider(logger log.FieldLogger) *CloudflareProvider {
	logger = logger.WithField("provider", "cloudflare")

	var api Cloudflarer
	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	if token := os.Getenv("CLOUDFLARE_API_TOKEN"); token != "" && accountID != "" {
		client, err := cf.NewWithAPIToken(token)
		if err != nil {
			logger.WithError(err).Warn("Failed to build Cloudflare API client; tunnel GC disabled")
		} else {
			api = client
		}
	}

	return &CloudflareProvider{
		logger:    logger,
		api:       api,
		accountID: accountID,
		command: &commandProvider{
			kind:   model.ProviderCloudflare,
			logger: logger,
			urlRE:  regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`),
			cmdline: func(localPort int, opts model.TunnelOptions) []string {
				return []string{"cloudflared", "tunnel", "--no-autoupdate", "--url", "http://localhost:" + strconv.Itoa(localPort)}
			},
		},
	}
}

// Kind implements Provider.
func (p *CloudflareProvider) Kind() model.TunnelProvider { return model.ProviderCloudflare }

// Open implements Provider.
func (p *CloudflareProvider) Open(ctx context.Context, localPort int, opts model.TunnelOptions) (string, Handle, error) {
	return p.command.Open(ctx, localPort, opts)
}

// CollectStale removes dead named tunnels through the Cloudflare API.
// Without credentials it is a no-op.
func (p *CloudflareProvider) CollectStale(ctx context.Context) error {
	if p.api == nil || p.accountID == "" {
		return nil
	}

	rc := cf.AccountIdentifier(p.accountID)
	deleted := true
	tunnels, _, err := p.api.ListTunnels(ctx, rc, cf.TunnelListParams{IsDeleted: &deleted})
	if err != nil {
		return model.WrapError(model.ErrExternalFailure, err, "failed to list cloudflare tunnels")
	}

	for _, tunnel := range tunnels {
		if len(tunnel.Connections) > 0 {
			continue
		}
		if err := p.api.DeleteTunnel(ctx, rc, tunnel.ID); err != nil {
			p.logger.WithError(err).WithField("tunnel", tunnel.ID).Warn("Failed to delete stale cloudflare tunnel")
		}
	}

	return nil
}

// probeBinary reports whether cloudflared is installed.
func (p *CloudflareProvider) probeBinary(ctx context.Context) bool {
	cmd := exec.Command("cloudflared", "--version")
	_, err := exechelper.Run(ctx, cmd, &exechelper.Options{}, p.logger, func(string, log.FieldLogger) {})
	return err == nil
}
