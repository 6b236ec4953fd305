package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/errors"
	"github.com/postersafari/postr-engine/logger"
	"github.com/postersafari/postr-engine/pipeline"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <file or id>...",
		Short: "Analyze poster images or stored posters",
		Long: `Run every argument through the chain and print its result.

An argument naming an existing file is read as a poster image. Any other
argument is taken as a document id and claimed from the configured source;
its result is written back unless --dry-run is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(flags)
			if err != nil {
				return err
			}
			var reporter pipeline.ProgressReporter
			if !flags.quiet {
				reporter = newTerminalReporter()
			}
			eng, err := newEngine(cmd.Context(), app, reporter)
			if err != nil {
				return err
			}
			return app.RunTask(cmd.Context(), func(ctx context.Context) error {
				return eng.runBatch(ctx, args, cmd.OutOrStdout())
			})
		},
	}
}

// job is one argument of the run command.
type job struct {
	item   *document.Item
	stored bool
}

// runBatch processes every argument concurrently. Stored documents are
// written back, or released when their run fails.
func (e *engine) runBatch(ctx context.Context, args []string, out io.Writer) error {
	jobs := make([]job, 0, len(args))
	for _, arg := range args {
		j, err := e.load(ctx, arg)
		if err != nil {
			for _, done := range jobs {
				e.release(ctx, done)
			}
			return fmt.Errorf("loading %s: %w", arg, err)
		}
		jobs = append(jobs, j)
	}

	stop := context.AfterFunc(ctx, e.sc.Abort)
	defer stop()

	watch := e.chain.Stages()
	var (
		g     errgroup.Group
		outMu sync.Mutex
	)
	for _, j := range jobs {
		g.Go(func() error {
			run := pipeline.Attach(e.sc, e.chain, j.item)
			fields := logger.Fields(logger.FieldRunID, run.ID(), logger.FieldItemID, j.item.ID())
			if !pipeline.WaitForFinished(ctx, run, watch...) {
				e.log.Info("aborted.", fields)
				e.release(ctx, j)
				return pipeline.ErrAborted
			}
			if run.Failed() {
				e.log.WithError(run.Err()).Error("analysis failed", fields)
				e.release(ctx, j)
				return run.Err()
			}

			item := run.Item()
			e.log.Debug("analysis finished", logger.Fields(logger.FieldRunID, run.ID(), "meta", item.Meta))
			outMu.Lock()
			err := printResult(out, item)
			outMu.Unlock()
			if err != nil {
				return err
			}
			if j.stored && !e.cfg.Source.DryRun {
				return e.src.HandleResult(context.WithoutCancel(ctx), item)
			}
			return nil
		})
	}
	return g.Wait()
}

// load turns an argument into a job: a file becomes a fresh item, anything
// else is claimed from the source by id.
func (e *engine) load(ctx context.Context, arg string) (job, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		it, err := readPoster(arg)
		return job{item: it}, err
	}
	switch src := e.src.(type) {
	case pipeline.Claimer:
		it, err := src.Claim(ctx, arg)
		return job{item: it, stored: true}, err
	case pipeline.Getter:
		it, err := src.Get(ctx, arg)
		return job{item: it}, err
	default:
		return job{}, errors.NotFound("file or document", arg)
	}
}

func (e *engine) release(ctx context.Context, j job) {
	if !j.stored {
		return
	}
	if err := e.src.HandleError(context.WithoutCancel(ctx), j.item); err != nil {
		e.log.WithError(err).Warn("releasing item failed", logger.Fields(logger.FieldItemID, j.item.ID()))
	}
}

// readPoster reads an image file into an item carrying it as the
// "original" attachment.
func readPoster(path string) (*document.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	it := document.New()
	it.Set(document.KeyFilename, path)
	it.AddImage(document.AttachmentOriginal, &document.Attachment{
		ContentType: http.DetectContentType(data),
		Data:        data,
		Length:      len(data),
	})
	return it, nil
}

func printResult(out io.Writer, item *document.Item) error {
	result, _ := item.Get(document.KeyResult)
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
