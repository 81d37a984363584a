package main

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"digital.vasic.vfs/pkg/client"
	"digital.vasic.vfs/pkg/config"
	"digital.vasic.vfs/pkg/transfer"
)

type transferFlags struct {
	recursive bool
	overwrite transfer.OverwriteMode
	errors    transfer.ErrorMode
	unique    bool
	follow    bool
	sameFS    bool
	verify    bool
	exclude   []string
	bwLimit   string
	blockSize string
}

func newTransferCmd(a *app, move bool) *cobra.Command {
	var flags transferFlags
	use, short := "cp", "Copy files and directories"
	if move {
		use, short = "mv", "Move files and directories"
	}

	cmd := &cobra.Command{
		Use:   use + " [flags] <source>... <target>",
		Short: short,
		Long: short + `.

Addresses are local paths, URLs such as sftp://user@host/dir/file or
smb://server/share/dir, or name:/path for storages from the config file.
All sources must be in one directory of one storage.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			if err := applyConfigDefaults(cmd, a.cfg.Defaults, &flags); err != nil {
				return err
			}
			return a.runTransfer(cmd.Context(), args, flags, move)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&flags.recursive, "recursive", "r", false, "copy directories recursively")
	flags.overwrite, flags.errors = transfer.OverwriteQuery, transfer.ErrorModeQuery
	f.Var(overwriteFlag{&flags.overwrite}, "overwrite", "existing targets: abort, replace, skip or query")
	f.Var(errorModeFlag{&flags.errors}, "errors", "backend errors: abort or query")
	f.BoolVar(&flags.unique, "unique", false, "give conflicting targets a unique name instead")
	f.BoolVarP(&flags.follow, "follow-symlinks", "L", false, "copy what symlinks point to")
	f.BoolVar(&flags.sameFS, "same-fs", false, "fail instead of copying when a move crosses filesystems")
	f.BoolVar(&flags.verify, "verify", false, "verify checksums after copy (BLAKE3)")
	f.StringArrayVar(&flags.exclude, "exclude", nil, "exclude entries matching PATTERN (repeatable)")
	f.StringVar(&flags.bwLimit, "bwlimit", "", "bandwidth limit (e.g. 100M, 1G)")
	f.StringVar(&flags.blockSize, "block-size", "", "copy block size (e.g. 64K)")
	return cmd
}

// applyConfigDefaults applies config file defaults for flags not set on
// the command line.
func applyConfigDefaults(cmd *cobra.Command, defaults config.DefaultsConfig, flags *transferFlags) error {
	changed := cmd.Flags().Changed
	if !changed("overwrite") && defaults.Overwrite != nil {
		if err := (overwriteFlag{&flags.overwrite}).Set(*defaults.Overwrite); err != nil {
			return fmt.Errorf("config defaults: %w", err)
		}
	}
	if !changed("errors") && defaults.Errors != nil {
		if err := (errorModeFlag{&flags.errors}).Set(*defaults.Errors); err != nil {
			return fmt.Errorf("config defaults: %w", err)
		}
	}
	if !changed("follow-symlinks") && defaults.FollowSymlinks != nil {
		flags.follow = *defaults.FollowSymlinks
	}
	if !changed("verify") && defaults.Verify != nil {
		flags.verify = *defaults.Verify
	}
	if !changed("bwlimit") && defaults.BWLimit != nil {
		flags.bwLimit = *defaults.BWLimit
	}
	if !changed("block-size") && defaults.BlockSize != nil {
		flags.blockSize = *defaults.BlockSize
	}
	return nil
}

// overwriteFlag parses --overwrite when flags are parsed.
type overwriteFlag struct {
	mode *transfer.OverwriteMode
}

var _ pflag.Value = overwriteFlag{}

func (f overwriteFlag) String() string {
	if f.mode == nil {
		return ""
	}
	return f.mode.String()
}

func (f overwriteFlag) Set(s string) error {
	m, err := transfer.ParseOverwriteMode(s)
	if err != nil {
		return err
	}
	*f.mode = m
	return nil
}

func (overwriteFlag) Type() string { return "mode" }

// errorModeFlag parses --errors when flags are parsed.
type errorModeFlag struct {
	mode *transfer.ErrorMode
}

var _ pflag.Value = errorModeFlag{}

func (f errorModeFlag) String() string {
	if f.mode == nil {
		return ""
	}
	return f.mode.String()
}

func (f errorModeFlag) Set(s string) error {
	m, err := transfer.ParseErrorMode(s)
	if err != nil {
		return err
	}
	*f.mode = m
	return nil
}

func (errorModeFlag) Type() string { return "mode" }

// buildRequest turns the flags into the parts of a transfer request that
// do not depend on the addresses.
func (a *app) buildRequest(flags transferFlags, move bool) (*transfer.Request, error) {
	req := &transfer.Request{
		OverwriteMode: flags.overwrite,
		ErrorMode:     flags.errors,
		Exclude:       flags.exclude,
		Logger:        a.log,
	}

	var err error
	if flags.bwLimit != "" {
		if req.BandwidthLimit, err = config.ParseSize(flags.bwLimit); err != nil {
			return nil, fmt.Errorf("invalid --bwlimit: %w", err)
		}
	}
	if flags.blockSize != "" {
		n, err := config.ParseSize(flags.blockSize)
		if err != nil || n <= 0 || n > 1<<30 {
			return nil, fmt.Errorf("invalid --block-size %q", flags.blockSize)
		}
		req.BlockSize = int(n)
	}
	if d := a.cfg.Defaults.ProgressInterval; d != nil {
		if req.ProgressInterval, err = time.ParseDuration(*d); err != nil {
			return nil, fmt.Errorf("invalid progress_interval: %w", err)
		}
	}

	set := func(on bool, o transfer.Options) {
		if on {
			req.Options |= o
		}
	}
	set(flags.recursive, transfer.Recursive)
	set(move, transfer.RemoveSource)
	set(flags.unique, transfer.UseUniqueNames)
	set(flags.follow, transfer.FollowSymlinks)
	set(flags.sameFS, transfer.SameFilesystemOnly)
	set(flags.verify, transfer.Verify)
	return req, nil
}

func (a *app) runTransfer(ctx context.Context, args []string, flags transferFlags, move bool) error {
	req, err := a.buildRequest(flags, move)
	if err != nil {
		return err
	}

	sources, target := args[:len(args)-1], args[len(args)-1]
	var names []string
	for i, addr := range sources {
		c, p, err := a.open(ctx, addr)
		if err != nil {
			return err
		}
		p = strings.TrimSuffix(p, "/")
		if p == "" {
			return fmt.Errorf("cannot transfer the root of %s", addr)
		}
		dir, name := path.Split(p)
		if dir == "" {
			dir = "."
		}
		if i == 0 {
			req.Source, req.SourceDir = c, dir
		} else if c != req.Source || dir != req.SourceDir {
			return fmt.Errorf("sources must share one directory: %s is not in %s", addr, sources[0])
		}
		names = append(names, name)
	}

	tc, tp, err := a.open(ctx, target)
	if err != nil {
		return err
	}
	req.Target = tc

	var targets []string
	info, err := tc.GetFileInfo(ctx, tp)
	switch {
	case err == nil && info.IsDir:
		req.TargetDir = tp
	case err == nil || client.IsNotExist(err):
		if len(names) > 1 {
			return fmt.Errorf("target %s: %w", target, transfer.ErrNotADirectory)
		}
		// a single source renamed on the way
		dir, name := path.Split(strings.TrimSuffix(tp, "/"))
		if dir == "" {
			dir = "."
		}
		req.TargetDir = dir
		targets = []string{name}
	default:
		return fmt.Errorf("failed to stat target %s: %w", target, err)
	}

	if req.Items, err = transfer.NewPairs(names, targets); err != nil {
		return err
	}

	con := newConsole(a.stdin, a.stdout, a.stderr, a.quiet)
	req.Handler = con
	job := transfer.Start(ctx, req)
	a.log.Debug("transfer job started", "job", job.ID())
	err = job.Wait()

	if !a.quiet {
		fmt.Fprintln(a.stderr, con.summary())
	}
	if errors.Is(err, transfer.ErrInterrupted) {
		fmt.Fprintln(a.stderr, "interrupted")
		return &exitError{code: 130}
	}
	return err
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [address]",
		Short: "List a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			addr := "."
			if len(args) == 1 {
				addr = args[0]
			}
			c, p, err := a.open(cmd.Context(), addr)
			if err != nil {
				return err
			}
			entries, err := c.ListDirectory(cmd.Context(), p)
			if err != nil {
				return err
			}
			for _, e := range entries {
				size := formatBytes(e.Size)
				if e.IsDir {
					size = "-"
				}
				name := e.Name
				if e.IsSymlink && e.LinkTarget != "" {
					name += " -> " + e.LinkTarget
				}
				fmt.Fprintf(a.stdout, "%s  %10s  %s  %s\n",
					e.Mode, size, e.ModTime.Format("2006-01-02 15:04"), name)
			}
			return nil
		},
	}
}

func newProtocolsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "protocols",
		Short: "List supported protocols and configured storages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range a.factory.SupportedProtocols() {
				fmt.Fprintln(a.stdout, p)
			}
			for _, name := range a.cfg.StorageNames() {
				sc, err := a.cfg.StorageConfig(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "%s: (%s)\n", name, sc.Protocol)
			}
			return nil
		},
	}
}
