// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package checkpoint

import (
	"context"
	"strings"
	"sync"

	"github.com/pingcap/errors"
	"go.uber.org/multierr"

	"github.com/xcluster/xtarget/xcluster/model"
)

// ClientCache keeps one shared client per set of source master addresses.
type ClientCache struct {
	factory ClientFactory

	mu      sync.Mutex
	clients map[string]RemoteClient
}

// NewClientCache creates a ClientCache.
func NewClientCache(factory ClientFactory) *ClientCache {
	return &ClientCache{
		factory: factory,
		clients: make(map[string]RemoteClient),
	}
}

// Factory returns the factory new clients are opened with.
func (c *ClientCache) Factory() ClientFactory {
	return c.factory
}

// GetOrCreate returns the cached client for the group's source, opening one if needed.
func (c *ClientCache) GetOrCreate(
	ctx context.Context, info *model.ReplicationGroupInfo,
) (Client, error) {
	addrs := info.SortedMasterAddrs()
	key := strings.Join(addrs, ",")

	c.mu.Lock()
	defer c.mu.Unlock()
	if cli, ok := c.clients[key]; ok {
		return cli, nil
	}
	cli, err := c.factory.NewClient(ctx, addrs)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.clients[key] = cli
	return cli, nil
}

// Close closes all cached clients.
func (c *ClientCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	for key, cli := range c.clients {
		err = multierr.Append(err, cli.Close())
		delete(c.clients, key)
	}
	return errors.Trace(err)
}
