// Package appid exposes the relay's application identity.
package appid

import (
	"context"

	"github.com/fulmenhq/gofulmen/appidentity"
)

const (
	BinaryName = "cyclops"
	EnvPrefix  = "CYCLOPS_"
	ConfigName = "cyclops"
)

// Get returns a fresh copy of the relay identity. Callers may mutate it.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	return &appidentity.Identity{
		BinaryName:  BinaryName,
		Description: "Adaptive forwarding relay for error reports",
		EnvPrefix:   EnvPrefix,
		ConfigName:  ConfigName,
	}, nil
}
