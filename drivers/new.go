package drivers

import (
	"github.com/sloonz/shelvery/lib"

	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Create the driver of a resource kind. A configured driver_proxy_command or
// driver_command takes precedence over the native driver of the kind.
func New(kind shelvery.ResourceKind, cfg *shelvery.Config, awsCfg aws.Config) (shelvery.Driver, error) {
	if command := cfg.Command(shelvery.KeyDriverProxyCommand, nil); len(command) > 0 {
		return newProxyDriver(kind, command, cfg)
	}
	if command := cfg.Command(shelvery.KeyDriverCommand, nil); len(command) > 0 {
		return newCommandDriver(kind, command, cfg)
	}

	switch kind {
	case shelvery.KindEBS:
		return NewEBS(NewEC2Clients(awsCfg), awsCfg.Region, cfg.TagPrefix()), nil
	case shelvery.KindEC2AMI, shelvery.KindRDS, shelvery.KindRDSCluster, shelvery.KindDocDB, shelvery.KindRedshift:
		return nil, fmt.Errorf("%w: no native driver for %s, set %s", shelvery.ErrUnsupportedKind, kind, shelvery.KeyDriverCommand)
	default:
		return nil, fmt.Errorf("%w: %s", shelvery.ErrUnsupportedKind, kind)
	}
}
