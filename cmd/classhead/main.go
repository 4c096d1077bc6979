// Package main provides the classhead CLI: it serves a training worker over
// HTTP and averages or inspects checkpoint files.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/born-ml/classhead/internal/aggregate"
	"github.com/born-ml/classhead/internal/checkpoint"
	"github.com/born-ml/classhead/internal/config"
	"github.com/born-ml/classhead/internal/logging"
	"github.com/born-ml/classhead/internal/server"
	"github.com/born-ml/classhead/internal/store"
	"github.com/born-ml/classhead/internal/worker"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const version = "v0.1.0"

type serveCmd struct {
	Config string `arg:"-c,--config" help:"path to YAML config (default $CLASSHEAD_CONFIG)"`
	Addr   string `help:"listen address, overrides server.addr"`
}

type averageCmd struct {
	Out      string   `arg:"-o,--out,required" help:"path of the averaged checkpoint"`
	Compress bool     `help:"snappy-compress the tensor payload"`
	Sources  []string `arg:"positional,required" help:"checkpoint files; the last one supplies the metadata"`
}

type inspectCmd struct {
	Path string `arg:"positional,required" help:"checkpoint file"`
}

type versionCmd struct{}

type args struct {
	Serve   *serveCmd   `arg:"subcommand:serve" help:"serve train, average and infer over HTTP"`
	Average *averageCmd `arg:"subcommand:average" help:"average checkpoint files"`
	Inspect *inspectCmd `arg:"subcommand:inspect" help:"print a checkpoint summary"`
	Version *versionCmd `arg:"subcommand:version" help:"show version"`
}

func (args) Description() string {
	return "classhead - incrementally growable classifier heads with checkpoint averaging"
}

func main() {
	var a args
	p := arg.MustParse(&a)

	var err error
	switch {
	case a.Serve != nil:
		err = serve(a.Serve)
	case a.Average != nil:
		err = average(a.Average, os.Stdout)
	case a.Inspect != nil:
		err = inspect(a.Inspect, os.Stdout)
	case a.Version != nil:
		fmt.Printf("classhead %s\n", version)
	default:
		p.WriteHelp(os.Stdout)
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func serve(cmd *serveCmd) error {
	cfg, err := config.Load(cmd.Config)
	if err != nil {
		return err
	}
	if cmd.Addr != "" {
		cfg.Server.Addr = cmd.Addr
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	if !cfg.Features.Precomputed {
		return errors.New("raw item sources must be supplied by the host process; set features.precomputed")
	}

	w, err := worker.New(cfg, worker.Deps{
		Store:  st,
		Items:  worker.NewFeatureFiles(cfg.Features.Dir),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server.Addr, w, logger)
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		errc <- srv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		if err != http.ErrServerClosed {
			return err
		}
		return nil
	case s := <-sig:
		logger.Info("shutting down", zap.Stringer("signal", s))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func openStore(cfg config.Store) (store.Store, error) {
	switch cfg.Kind {
	case config.StoreS3:
		return store.NewS3(cfg.Region, cfg.Bucket, cfg.Prefix)
	default:
		return store.NewFS(cfg.Root)
	}
}

func average(cmd *averageCmd, out io.Writer) error {
	keys := make([]string, len(cmd.Sources))
	for i, src := range cmd.Sources {
		abs, err := filepath.Abs(src)
		if err != nil {
			return err
		}
		keys[i] = filepath.ToSlash(abs)
	}

	avg, err := aggregate.AverageFiles(context.Background(), store.NewFSFrom(afero.NewOsFs()), keys)
	if err != nil {
		return err
	}

	f, err := os.Create(cmd.Out)
	if err != nil {
		return errors.Wrapf(err, "error creating %s", cmd.Out)
	}
	if err := checkpoint.Encode(f, avg, checkpoint.EncodeOptions{
		Compress: cmd.Compress,
		Metadata: map[string]string{"operation": "average", "count": fmt.Sprint(len(keys))},
	}); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Fprintf(out, "averaged %d checkpoints into %s\n", len(keys), cmd.Out)
	return nil
}

func inspect(cmd *inspectCmd, out io.Writer) error {
	f, err := os.Open(cmd.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	ckpt, err := checkpoint.Decode(f)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "feature extractor: %s\n", ckpt.FeatureExtractor())
	fmt.Fprintf(out, "pretrained:        %t\n", ckpt.Pretrained())
	fmt.Fprintf(out, "classes (%d):\n", ckpt.NumClasses())
	for i, name := range ckpt.Labels().Names() {
		fmt.Fprintf(out, "  %3d  %s\n", i, name)
	}
	fmt.Fprintf(out, "parameters:\n")
	for _, name := range ckpt.ParameterNames() {
		p, _ := ckpt.Parameter(name)
		fmt.Fprintf(out, "  %-24s %v\n", name, p.Shape())
	}
	return nil
}
