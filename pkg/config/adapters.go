package config

import (
	"fmt"

	"github.com/marmos91/webhdfsfs/pkg/adapter/fuse"
	"github.com/marmos91/webhdfsfs/pkg/bridge"
)

// CreateAdapter creates the FUSE adapter serving b at mountpoint.
//
// Parameters:
//   - cfg: The complete configuration (mount section)
//   - mountpoint: Local directory to mount on
//   - b: The bridge the adapter dispatches to
func CreateAdapter(cfg *Config, mountpoint string, b *bridge.Bridge) (*fuse.FUSEAdapter, error) {
	if mountpoint == "" {
		return nil, fmt.Errorf("no mountpoint given")
	}
	if b == nil {
		return nil, fmt.Errorf("no bridge given")
	}

	return fuse.New(fuse.Config{
		Mountpoint:   mountpoint,
		FSName:       cfg.Mount.FSName,
		AllowOther:   cfg.Mount.AllowOther,
		EntryTimeout: cfg.Mount.EntryTimeout,
		AttrTimeout:  cfg.Mount.AttrTimeout,
		Debug:        cfg.Mount.Debug,
	}, b), nil
}
