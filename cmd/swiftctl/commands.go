package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/swiftfs/swiftfs/pkg/swift"
)

type command struct {
	usage   string
	help    string
	minArgs int
	maxArgs int
	run     func(ctx context.Context, a *app, args []string) error
}

var commandOrder = []string{
	"ls", "get", "put", "rm", "count", "stat", "extract", "cat", "append", "mkdir", "rmdir",
}

var commands = map[string]command{
	"ls":      {"ls [prefix]", "list object names, honoring --limit", 0, 1, runList},
	"get":     {"get <name> [file]", "download an object to file or stdout", 1, 2, runGet},
	"put":     {"put <name> <file>", "upload a local file", 2, 2, runPut},
	"rm":      {"rm <name>", "delete an object", 1, 1, runRemove},
	"count":   {"count", "print the container's object count", 0, 0, runCount},
	"stat":    {"stat <path>", "print size, times and type of a path", 1, 1, runStat},
	"extract": {"extract <archive> <format> [path]", "upload an archive for server-side extraction", 2, 3, runExtract},
	"cat":     {"cat <path>", "stream a file to stdout", 1, 1, runCat},
	"append":  {"append <path> <file>", "append a local file to a remote one", 2, 2, runAppend},
	"mkdir":   {"mkdir <path>", "create a directory marker", 1, 1, runMkdir},
	"rmdir":   {"rmdir <path>", "remove a directory marker", 1, 1, runRmdir},
}

func runList(ctx context.Context, a *app, args []string) error {
	client, err := a.client()
	if err != nil {
		return err
	}
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}

	names, err := client.ListObjectNames(ctx, prefix, a.opts.limit)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(a.stdout, name)
	}
	return nil
}

func runGet(ctx context.Context, a *app, args []string) error {
	client, err := a.client()
	if err != nil {
		return err
	}

	data, err := client.Download(ctx, args[0])
	if err != nil {
		return err
	}
	if len(args) == 1 {
		_, err = a.stdout.Write(data)
		return err
	}
	return os.WriteFile(args[1], data, 0o644)
}

func runPut(ctx context.Context, a *app, args []string) error {
	client, err := a.client()
	if err != nil {
		return err
	}

	f, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	if err := client.UploadStream(ctx, args[0], f, info.Size()); err != nil {
		return err
	}
	a.logger.Info("uploaded object", "object", args[0], "size", info.Size())
	return nil
}

func runRemove(ctx context.Context, a *app, args []string) error {
	client, err := a.client()
	if err != nil {
		return err
	}

	deleted, err := client.Delete(ctx, args[0])
	if err != nil {
		return err
	}
	if !deleted {
		fmt.Fprintf(a.stderr, "%s did not exist\n", args[0])
	}
	return nil
}

func runCount(ctx context.Context, a *app, _ []string) error {
	client, err := a.client()
	if err != nil {
		return err
	}

	count, err := client.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, count)
	return nil
}

func runStat(ctx context.Context, a *app, args []string) error {
	path, err := a.path(args[0])
	if err != nil {
		return err
	}

	entry, err := a.fs.Stat(ctx, path)
	if err != nil {
		return err
	}
	kind := "file"
	if entry.IsDir {
		kind = "directory"
	}
	fmt.Fprintf(a.stdout, "path:     %s\ntype:     %s\nmode:     %s\nsize:     %d\nmodified: %s\ncreated:  %s\n",
		path, kind, entry.Mode(), entry.Size,
		entry.Modified.UTC().Format(time.RFC3339), entry.Created.UTC().Format(time.RFC3339))
	return nil
}

func runExtract(ctx context.Context, a *app, args []string) error {
	client, err := a.client()
	if err != nil {
		return err
	}
	format, err := swift.ParseArchiveFormat(args[1])
	if err != nil {
		return err
	}
	uploadPath := ""
	if len(args) == 3 {
		uploadPath = args[2]
	}

	result, err := client.UploadArchive(ctx, args[0], format, uploadPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "files created: %d\n", result.FilesCreated)
	for _, e := range result.Errors {
		fmt.Fprintf(a.stderr, "extract error: %v\n", e)
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("%d archive entries failed to extract", len(result.Errors))
	}
	return nil
}

func runCat(ctx context.Context, a *app, args []string) error {
	path, err := a.path(args[0])
	if err != nil {
		return err
	}

	f, err := a.fs.Open(ctx, path, "r")
	if err != nil {
		return err
	}
	defer f.Close(ctx)

	_, err = io.Copy(a.stdout, f.Stream(ctx))
	return err
}

func runAppend(ctx context.Context, a *app, args []string) error {
	path, err := a.path(args[0])
	if err != nil {
		return err
	}
	src, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer src.Close()

	f, err := a.fs.Open(ctx, path, "a")
	if err != nil {
		return err
	}
	stream := f.Stream(ctx)
	if _, err := io.Copy(stream, src); err != nil {
		_ = stream.Close()
		return err
	}
	return stream.Close()
}

func runMkdir(ctx context.Context, a *app, args []string) error {
	path, err := a.path(args[0])
	if err != nil {
		return err
	}
	return a.fs.Mkdir(ctx, path)
}

func runRmdir(ctx context.Context, a *app, args []string) error {
	path, err := a.path(args[0])
	if err != nil {
		return err
	}
	return a.fs.Rmdir(ctx, path)
}
