/*
transfs is a read-only FUSE filesystem that presents a virtual view of an
archive of software (ROMs, disk images, BIOS files). Downstream consumers
(emulator front-ends) see the idiosyncratic directory layouts and file
extensions they expect, while the physical store stays organized by
manufacturer, system and file type. Nothing is copied or modified: virtual
paths are translated on the fly, archives are indexed and unpacked on
demand, and single-file archives can be flattened away entirely.

The following signals are observed and handled by the filesystem:
  - SIGTERM or SIGINT (CTRL+C) gracefully unmounts the filesystem
  - SIGUSR1 forces a garbage collection (within Go)
  - SIGUSR2 dumps a diagnostic stacktrace to standard error (stderr)

When enabled, the diagnostics server exposes the following routes over HTTP:
  - "/" for filesystem dashboard and event ring-buffer
  - "/metrics.json" for the dashboard data as JSON
  - "/gc" for forcing of a garbage collection (within Go)
  - "/reset" for resetting the FS metrics at runtime
  - "/set/threshold/<value>" for adapting of the streaming threshold
*/
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/GlennPegden2/TransFS/internal/config"
	"github.com/GlennPegden2/TransFS/internal/filesystem"
	"github.com/GlennPegden2/TransFS/internal/logging"
	"github.com/GlennPegden2/TransFS/internal/webgui"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const (
	stackTraceBuffer  = 1 << 24
	defaultRingBuffer = 256
)

// Version is the program version (filled in from the Makefile).
var Version string

type programOpts struct {
	configPaths      []string
	mountpoint       string
	logLevel         string
	allowOther       bool
	streamThreshold  uint64
	tempDir          string
	dashboardAddress string
}

func rootCmd() *cobra.Command {
	var argConfigs []string
	var argMountpoint string
	var argLogLevel string
	var argAllowOther bool
	var argThreshold string
	var argTempDir string
	var argDashAddress string

	cmd := &cobra.Command{
		Use:   "transfs",
		Short: "a read-only FUSE filesystem translating virtual software layouts",
		Long: `transfs mounts a virtual view of a physical software archive. Clients
(emulator front-ends) browse the directory structures and file extensions
they expect; the filesystem translates every access onto the physical store,
reaching into ZIP archives where needed.

When mounted, the following OS signals are observed at runtime:
- SIGTERM/SIGINT for gracefully unmounting the FS
- SIGUSR1 for forcing a garbage collection run within Go
- SIGUSR2 for printing a stack trace to standard error (stderr)

When enabled, the diagnostics dashboard exposes the following routes:
- "/" for filesystem dashboard and event ring-buffer
- "/metrics.json" for the dashboard data as JSON
- "/gc" for forcing of a garbage collection (within Go)
- "/reset" for resetting the FS metrics at runtime
- "/set/threshold/<value>" for adapting of the streaming threshold`,
		Version: Version,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			numThreshold, err := humanize.ParseBytes(argThreshold)
			if err != nil {
				return fmt.Errorf("failed to parse threshold: %w", err)
			}

			return run(programOpts{
				configPaths:      argConfigs,
				mountpoint:       argMountpoint,
				logLevel:         argLogLevel,
				allowOther:       argAllowOther,
				streamThreshold:  numThreshold,
				tempDir:          argTempDir,
				dashboardAddress: argDashAddress,
			})
		},
	}
	cmd.Flags().StringSliceVarP(&argConfigs, "config", "c", []string{"transfs.yaml"}, "Configuration document(s), merged in order")
	cmd.Flags().StringVarP(&argMountpoint, "mountpoint", "p", "", "Mountpoint (overrides the configuration)")
	cmd.Flags().StringVarP(&argLogLevel, "log-level", "l", "info", "Log level (debug, info, warning, error)")
	cmd.Flags().BoolVarP(&argAllowOther, "allow-other", "a", false, "Allow other users to access the mount")
	cmd.Flags().StringVarP(&argThreshold, "memsize", "m", "10M", "Size cutoff for serving archive members from RAM (extracting instead)")
	cmd.Flags().StringVarP(&argTempDir, "temp-dir", "t", "", "Directory for extracted members (OS temp dir when empty)")
	cmd.Flags().StringVarP(&argDashAddress, "webgui", "w", "", "Address to serve the diagnostics dashboard on (e.g. :8000; but disabled when empty)")

	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts programOpts) error {
	if err := logging.Setup(opts.logLevel, os.Stderr); err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPaths...)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if opts.mountpoint != "" {
		cfg.App.Mountpoint = opts.mountpoint
	}
	if cfg.App.Mountpoint == "" {
		return fmt.Errorf("config error: no mountpoint configured")
	}

	rbuf := logging.NewRingBuffer(defaultRingBuffer, logging.Log.Writer())

	fsOpts := filesystem.DefaultOptions()
	fsOpts.StreamingThreshold.Store(opts.streamThreshold)
	fsOpts.TempDir = opts.tempDir

	fsys, err := filesystem.NewFS(cfg, fsOpts, rbuf)
	if err != nil {
		return fmt.Errorf("fs init error: %w", err)
	}
	defer fsys.Cleanup()

	mountOpts := []fuse.MountOption{
		fuse.ReadOnly(),
		fuse.FSName("transfs"),
		fuse.Subtype("transfs"),
	}
	if opts.allowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}

	c, err := fuse.Mount(cfg.App.Mountpoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("fs mount error: %w", err)
	}
	defer c.Close()
	defer fuse.Unmount(cfg.App.Mountpoint) //nolint:errcheck

	logging.Log.Infof("mounted %q over %q", cfg.App.Mountpoint, cfg.App.Filestore)

	// A mount.transfs parent waits on the inherited pipe for the mount.
	if os.Getenv("TRANSFS_HELPER_FD") == "3" {
		ready := os.NewFile(3, "helper-ready")
		_, _ = ready.Write([]byte{1})
		_ = ready.Close()
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(errChan)
		if err := fs.Serve(c, fsys); err != nil {
			errChan <- fmt.Errorf("fs serve error: %w", err)
		}
	}()

	if opts.dashboardAddress != "" {
		dash, err := webgui.NewDashboard(fsys, rbuf, Version)
		if err != nil {
			return fmt.Errorf("dashboard error: %w", err)
		}
		srv := dash.Serve(opts.dashboardAddress)
		defer srv.Close()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range sig {
			logging.Log.Info("signal received, unmounting the filesystem...")

			if err := fuse.Unmount(cfg.App.Mountpoint); err != nil {
				logging.Log.Warnf("unmount error: %v (try again later)", err)

				continue
			}

			return
		}
	}()

	sig1 := make(chan os.Signal, 1)
	signal.Notify(sig1, syscall.SIGUSR1)
	go func() {
		for range sig1 {
			logging.Log.Info("signal received, forcing garbage collection...")
			runtime.GC()
			debug.FreeOSMemory()
		}
	}()

	sig2 := make(chan os.Signal, 1)
	signal.Notify(sig2, syscall.SIGUSR2)
	go func() {
		for range sig2 {
			logging.Log.Info("signal received, printing stacktrace (to stderr)...")
			buf := make([]byte, stackTraceBuffer)
			stacklen := runtime.Stack(buf, true)
			os.Stderr.Write(buf[:stacklen])
		}
	}()

	wg.Wait()

	return <-errChan
}
