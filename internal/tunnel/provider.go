// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package tunnel exposes local ports through public tunnel providers and
// keeps the persistent URL book with per-URL analytics.
package tunnel

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/exechelper"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

// urlWaitTimeout bounds how long a provider may take to print its URL.
const urlWaitTimeout = 30 * time.Second

// Provider opens and closes tunnels for one backend. Each provider
// exclusively owns its child processes and credentials.
type Provider interface {
	Kind() model.TunnelProvider
	// Open starts the tunnel and returns its public URL and a handle that
	// terminates it.
	Open(ctx context.Context, localPort int, opts model.TunnelOptions) (string, Handle, error)
}

// Handle closes one provider tunnel. Close must be idempotent and reclaim
// resources even if the provider process already exited.
type Handle interface {
	Close() error
}

// processHandle closes a tunnel backed by a child process.
type processHandle struct {
	handle *exechelper.Handle
}

func (h *processHandle) Close() error {
	return h.handle.Close()
}

// commandProvider runs a provider binary and scrapes the public URL from its
// output. It covers ngrok, cloudflared quick tunnels, localtunnel, serveo,
// and custom commands.
type commandProvider struct {
	kind    model.TunnelProvider
	logger  log.FieldLogger
	urlRE   *regexp.Regexp
	cmdline func(localPort int, opts model.TunnelOptions) []string
	env     func() map[string]string
}

func (p *commandProvider) Kind() model.TunnelProvider { return p.kind }

func (p *commandProvider) Open(ctx context.Context, localPort int, opts model.TunnelOptions) (string, Handle, error) {
	cmdline := p.cmdline(localPort, opts)
	cmd := exec.Command(cmdline[0], cmdline[1:]...)

	execOpts := &exechelper.Options{KillTree: true}
	if p.env != nil {
		execOpts.Env = p.env()
	}

	handle, err := exechelper.RunStream(ctx, cmd, execOpts, p.logger)
	if err != nil {
		return "", nil, err
	}

	url, err := p.waitForURL(handle)
	if err != nil {
		_ = handle.Close()
		return "", nil, err
	}

	// Keep draining output so the child never blocks on a full pipe.
	go func() {
		for range handle.Lines() {
		}
	}()

	return url, &processHandle{handle: handle}, nil
}

func (p *commandProvider) waitForURL(handle *exechelper.Handle) (string, error) {
	deadline := time.After(urlWaitTimeout)
	for {
		select {
		case line, ok := <-handle.Lines():
			if !ok {
				return "", model.NewError(model.ErrExternalFailure,
					"%s exited before reporting a url", p.kind)
			}
			if match := p.urlRE.FindString(line.Line); match != "" {
				return match, nil
			}
		case <-deadline:
			return "", model.NewError(model.ErrTimeout, "%s did not report a url in time", p.kind)
		}
	}
}

// NewNgrokProvider tunnels via the ngrok agent. The auth token is read from
// NGROK_TOKEN and passed through the environment, never logged.
func NewNgrokProvider(logger log.FieldLogger) Provider {
	return &commandProvider{
		kind:   model.ProviderNgrok,
		logger: logger.WithField("provider", "ngrok"),
		urlRE:  regexp.MustCompile(`https://[a-z0-9-]+\.ngrok[a-z.-]*\.(?:app|io|dev)`),
		cmdline: func(localPort int, opts model.TunnelOptions) []string {
			return []string{"ngrok", "http", strconv.Itoa(localPort), "--log", "stdout", "--log-format", "logfmt"}
		},
		env: func() map[string]string {
			env := map[string]string{}
			if token := os.Getenv("NGROK_TOKEN"); token != "" {
				env["NGROK_AUTHTOKEN"] = token
			}
			return env
		},
	}
}

// NewLocaltunnelProvider tunnels via the localtunnel client.
func NewLocaltunnelProvider(logger log.FieldLogger) Provider {
	return &commandProvider{
		kind:   model.ProviderLocaltunnel,
		logger: logger.WithField("provider", "localtunnel"),
		urlRE:  regexp.MustCompile(`https://[a-z0-9-]+\.loca\.lt`),
		cmdline: func(localPort int, opts model.TunnelOptions) []string {
			cmdline := []string{"npx", "localtunnel", "--port", strconv.Itoa(localPort)}
			if opts.Subdomain != "" {
				cmdline = append(cmdline, "--subdomain", opts.Subdomain)
			}
			return cmdline
		},
	}
}

// NewServeoProvider tunnels via serveo.net over ssh.
func NewServeoProvider(logger log.FieldLogger) Provider {
	return &commandProvider{
		kind:   model.ProviderServeo,
		logger: logger.WithField("provider", "serveo"),
		urlRE:  regexp.MustCompile(`https://[a-z0-9-]+\.serveo\.net`),
		cmdline: func(localPort int, opts model.TunnelOptions) []string {
			return []string{
				"ssh", "-o", "StrictHostKeyChecking=no", "-o", "ServerAliveInterval=30",
				"-R", "80:localhost:" + strconv.Itoa(localPort), "serveo.net",
			}
		},
	}
}

// NewCustomProvider runs an operator-supplied command; {{port}} is replaced
// with the local port.
func NewCustomProvider(command []string, urlPattern string, logger log.FieldLogger) (Provider, error) {
	if len(command) == 0 {
		return nil, model.NewError(model.ErrInvalidInput, "custom tunnel command is empty")
	}
	urlRE, err := regexp.Compile(urlPattern)
	if err != nil {
		return nil, model.WrapError(model.ErrInvalidInput, err, "bad custom tunnel url pattern")
	}

	return &commandProvider{
		kind:   model.ProviderCustom,
		logger: logger.WithField("provider", "custom"),
		urlRE:  urlRE,
		cmdline: func(localPort int, opts model.TunnelOptions) []string {
			cmdline := make([]string, 0, len(command))
			port := strconv.Itoa(localPort)
			for _, arg := range command {
				if arg == "{{port}}" {
					arg = port
				}
				cmdline = append(cmdline, arg)
			}
			return cmdline
		},
	}, nil
}
