package cmd

import (
	"github.com/sloonz/shelvery/drivers"
	"github.com/sloonz/shelvery/lib"

	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Build drivers on the remote end of a driver_proxy_command
func newProxiedDriver(ctx context.Context) func(kind shelvery.ResourceKind, config map[string]string) (shelvery.Driver, error) {
	return func(kind shelvery.ResourceKind, config map[string]string) (shelvery.Driver, error) {
		b := newEngineBuilder(ctx, nil, nil).
			WithPayload(config).
			WithKind(string(kind)).
			WithAWS().
			WithDriver()
		return b.Driver, b.Error
	}
}

var (
	cmdProxy = &cobra.Command{
		Use:    "proxy",
		Hidden: true,
		Run: func(cmd *cobra.Command, args []string) {
			rwc := shelvery.ReadWriteCloser{
				ReadCloser:  os.Stdin,
				WriteCloser: os.Stdout,
			}

			err := shelvery.ServeProxy(&rwc, "Driver", &drivers.ProxyServer{New: newProxiedDriver(cmd.Context())})
			if err != nil {
				logrus.Fatalf("Failed to start proxy server: %v", err)
			}
		},
	}
)
