package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/pim-storage/cmd/flags"
	"github.com/ruteri/pim-storage/discovery"
	"github.com/ruteri/pim-storage/httpserver"
	"github.com/ruteri/pim-storage/interfaces"
	"github.com/ruteri/pim-storage/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "pimstorage",
		Usage: "Read and write calendar and contact collections",
		Flags: flags.CommonFlags,
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "print href and etag of every item",
				ArgsUsage: "<storage>",
				Action:    withStorage(1, runList),
			},
			{
				Name:      "get",
				Usage:     "print one item",
				ArgsUsage: "<storage> <href>",
				Action:    withStorage(2, runGet),
			},
			{
				Name:      "upload",
				Usage:     "create an item from a file, - reads stdin",
				ArgsUsage: "<storage> <file>",
				Action:    withStorage(2, runUpload),
			},
			{
				Name:      "update",
				Usage:     "replace an item if its etag still matches",
				ArgsUsage: "<storage> <href> <etag> <file>",
				Action:    withStorage(4, runUpdate),
			},
			{
				Name:      "delete",
				Usage:     "remove an item if its etag still matches",
				ArgsUsage: "<storage> <href> <etag>",
				Action:    withStorage(3, runDelete),
			},
			{
				Name:      "meta",
				Usage:     "read or write a collection property (displayname, color)",
				ArgsUsage: "<storage> <key> [value]",
				Action:    withStorage(2, runMeta),
			},
			{
				Name:      "watch",
				Usage:     "print changes to a filesystem collection",
				ArgsUsage: "<storage>",
				Action:    withStorage(1, runWatch),
			},
			{
				Name:      "serve",
				Usage:     "expose a storage over HTTP",
				ArgsUsage: "<storage>",
				Flags:     flags.ServerFlags,
				Action:    runServe,
			},
			{
				Name:      "discover",
				Usage:     "print the configurations of all collections found",
				ArgsUsage: "<storage>",
				Action:    withEntry(runDiscover),
			},
			{
				Name:      "create",
				Usage:     "create the configured collection and print its configuration",
				ArgsUsage: "<storage>",
				Action:    withEntry(runCreate),
			},
		},
	}
}

// command is the state shared by every subcommand action.
type command struct {
	cCtx    *cli.Context
	log     *slog.Logger
	entry   *StorageEntry
	storage interfaces.Storage
	out     io.Writer
}

func (c *command) arg(i int) string {
	return c.cCtx.Args().Get(i)
}

func loadEntry(cCtx *cli.Context) (*StorageEntry, *slog.Logger, error) {
	logger := flags.SetupLogger(cCtx)
	if cCtx.Args().Len() < 1 {
		return nil, nil, errors.New("missing storage name")
	}
	cfg, err := LoadConfig(cCtx.String(flags.ConfigFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	entry, err := cfg.Lookup(cCtx.Args().First())
	if err != nil {
		return nil, nil, err
	}
	return entry, logger, nil
}

func withEntry(fn func(*command) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		entry, logger, err := loadEntry(cCtx)
		if err != nil {
			return err
		}
		return fn(&command{cCtx: cCtx, log: logger, entry: entry, out: cCtx.App.Writer})
	}
}

func withStorage(nargs int, fn func(*command) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		if cCtx.Args().Len() < nargs {
			return fmt.Errorf("expected arguments: %s", cCtx.Command.ArgsUsage)
		}
		entry, logger, err := loadEntry(cCtx)
		if err != nil {
			return err
		}
		s, err := storage.NewStorageFactory(logger, false).StorageFor(entry.Kind, entry.Config)
		if err != nil {
			logger.Error("Failed to open storage", "storage", entry.Name, "err", err)
			return err
		}
		return fn(&command{cCtx: cCtx, log: logger, entry: entry, storage: s, out: cCtx.App.Writer})
	}
}

func readItem(path string) (*interfaces.Item, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read item: %w", err)
	}
	return interfaces.ItemFromRaw(string(data))
}

func runList(c *command) error {
	listing, err := c.storage.List(c.cCtx.Context)
	if err != nil {
		return err
	}
	for listing.Next() {
		fmt.Fprintf(c.out, "%s\t%s\n", listing.Href(), listing.Etag())
	}
	return nil
}

func runGet(c *command) error {
	res, err := c.storage.Get(c.cCtx.Context, c.arg(1))
	if err != nil {
		return err
	}
	c.log.Debug("Fetched item", "href", c.arg(1), "etag", res.Etag)
	_, err = io.WriteString(c.out, res.Item.Raw())
	return err
}

func runUpload(c *command) error {
	item, err := readItem(c.arg(1))
	if err != nil {
		return err
	}
	res, err := c.storage.Upload(c.cCtx.Context, item)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s\t%s\n", res.Href, res.Etag)
	return nil
}

func runUpdate(c *command) error {
	item, err := readItem(c.arg(3))
	if err != nil {
		return err
	}
	etag, err := c.storage.Update(c.cCtx.Context, c.arg(1), item, c.arg(2))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, etag)
	return nil
}

func runDelete(c *command) error {
	return c.storage.Delete(c.cCtx.Context, c.arg(1), c.arg(2))
}

func runMeta(c *command) error {
	ms, ok := c.storage.(interfaces.MetadataStorage)
	if !ok {
		return interfaces.MetadataUnsupported(interfaces.MetaKey(c.arg(1)))
	}
	key := interfaces.MetaKey(c.arg(1))
	if c.cCtx.Args().Len() > 2 {
		return ms.SetMeta(c.cCtx.Context, key, c.arg(2))
	}
	value, err := ms.GetMeta(c.cCtx.Context, key)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, value)
	return nil
}

func runWatch(c *command) error {
	fs, ok := c.storage.(*storage.FilesystemStorage)
	if !ok {
		return fmt.Errorf("watch needs a filesystem storage, %s is %s", c.entry.Name, c.entry.Kind)
	}

	ctx, stop := signal.NotifyContext(c.cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return fs.Watch(ctx, func(ev storage.WatchEvent) {
		state := "changed"
		if ev.Removed {
			state = "removed"
		}
		fmt.Fprintf(c.out, "%s\t%s\n", state, ev.Href)
	})
}

func runDiscover(c *command) error {
	return discoverOrCreate(c, discovery.New(c.log).Discover)
}

func runCreate(c *command) error {
	return discoverOrCreate(c, discovery.New(c.log).Create)
}

func discoverOrCreate(c *command, fn func(context.Context, interfaces.StorageKind, []byte) ([]byte, error)) error {
	configJSON, err := c.entry.JSON()
	if err != nil {
		return err
	}
	res, err := fn(c.cCtx.Context, c.entry.Kind, configJSON)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(res))
	return err
}

func runServe(cCtx *cli.Context) error {
	entry, logger, err := loadEntry(cCtx)
	if err != nil {
		return err
	}

	s, err := storage.NewStorageFactory(logger, true).StorageFor(entry.Kind, entry.Config)
	if err != nil {
		logger.Error("Failed to open storage", "storage", entry.Name, "err", err)
		return err
	}

	cfg, err := flags.ConfigureServer(cCtx, logger)
	if err != nil {
		return err
	}
	server, err := httpserver.New(cfg, httpserver.NewHandler(s, logger))
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	logger.Info("Starting server", "storage", entry.Name, "kind", entry.Kind)
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}
