// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbt

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var ErrNoClient = errors.New("no qBittorrent client configured")

// Provider hands out the current client to both the poller and the mutation
// handlers, and lets a credential change swap it atomically.
type Provider struct {
	mu     sync.RWMutex
	client *Client
}

func NewProvider(client *Client) *Provider {
	return &Provider{client: client}
}

func (p *Provider) Get() (*Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, ErrNoClient
	}
	return p.client, nil
}

func (p *Provider) Set(client *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = client
}

// The provider doubles as the poller's transport, delegating to whichever
// client is currently configured.

func (p *Provider) Login(ctx context.Context) error {
	client, err := p.Get()
	if err != nil {
		return err
	}
	return client.Login(ctx)
}

func (p *Provider) MainData(ctx context.Context, rid int64, hasRid bool) (*MainData, error) {
	client, err := p.Get()
	if err != nil {
		return nil, err
	}
	return client.MainData(ctx, rid, hasRid)
}

func (p *Provider) Categories(ctx context.Context) (map[string]Category, error) {
	client, err := p.Get()
	if err != nil {
		return nil, err
	}
	return client.Categories(ctx)
}
