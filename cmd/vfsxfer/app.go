package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"digital.vasic.vfs/pkg/client"
	"digital.vasic.vfs/pkg/config"
	"digital.vasic.vfs/pkg/factory"
)

// app holds what every command shares: the loaded config, the logger and
// the clients opened so far.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfg     config.Config
	log     *slog.Logger
	quiet   bool
	factory *factory.DefaultFactory
	clients map[string]client.Client
}

func (a *app) init(cmd *cobra.Command, flags globalFlags) error {
	var err error
	if flags.configPath != "" {
		a.cfg, err = config.LoadFile(flags.configPath)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	verbose := flags.verbose
	if !cmd.Flags().Changed("verbose") && a.cfg.Defaults.Verbose != nil {
		verbose = *a.cfg.Defaults.Verbose
	}
	a.quiet = flags.quiet
	a.log = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{
		Level: logLevel(verbose, flags.quiet),
	}))
	a.factory = factory.NewDefaultFactory()
	a.clients = make(map[string]client.Client)
	return nil
}

// open resolves an address to a connected client and the path inside it.
// Addresses naming the same storage share one client, which lets moves
// between them use the backend's rename.
func (a *app) open(ctx context.Context, addr string) (client.Client, string, error) {
	sc, p, ok, err := a.cfg.Resolve(addr)
	if err != nil {
		return nil, "", err
	}
	var key string
	if ok {
		key = "storage:" + sc.Name
	} else {
		sc, p, err = factory.ParseURL(addr)
		if err != nil {
			return nil, "", err
		}
		key = fmt.Sprintf("%s %v", sc.Protocol, sc.Settings)
	}

	if c, ok := a.clients[key]; ok {
		return c, p, nil
	}
	c, err := a.factory.CreateClient(sc)
	if err != nil {
		return nil, "", err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, "", fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	a.log.Debug("connected", "protocol", c.GetProtocol(), "address", addr)
	a.clients[key] = c
	return c, p, nil
}

// close disconnects every client opened by the command.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for key, c := range a.clients {
		if err := c.Disconnect(ctx); err != nil {
			a.log.Warn("disconnect failed", "protocol", c.GetProtocol(), "error", err)
		}
		delete(a.clients, key)
	}
}
