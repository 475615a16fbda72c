package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/cutroom/backend/internal/models"
	"github.com/cutroom/backend/internal/services"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		paramsFlag string
		paramsFile string
		quiet      bool
	)

	names := make([]string, len(models.OperationTypes))
	for i, t := range models.OperationTypes {
		names[i] = string(t)
	}

	cmd := &cobra.Command{
		Use:       "run <type>",
		Short:     "Run one operation in the foreground",
		Long:      "Run one operation and print its result as JSON.\nTypes: " + strings.Join(names, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, ok := models.ParseOperationType(args[0])
			if !ok {
				return fmt.Errorf("unknown operation type %q (valid: %s)", args[0], strings.Join(names, ", "))
			}
			raw, err := readParams(paramsFlag, paramsFile)
			if err != nil {
				return err
			}
			params, err := services.DecodeParams(typ, raw)
			if err != nil {
				return err
			}

			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			a, err := newApp(ctx.cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			id, err := a.orch.Submit(sigCtx, typ, params)
			if err != nil {
				return err
			}

			if !quiet {
				unsubscribe, err := a.orch.Subscribe(id, newProgressReporter(cmd.ErrOrStderr(), string(typ)))
				if err != nil {
					return err
				}
				defer unsubscribe()
			}

			go func() {
				<-sigCtx.Done()
				_ = a.orch.Cancel(id)
			}()

			result, err := a.orch.Wait(context.Background(), id)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVarP(&paramsFlag, "params", "p", "", "Operation parameters as JSON")
	cmd.Flags().StringVarP(&paramsFile, "params-file", "f", "", "File holding the JSON parameters (- for stdin)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not report progress")
	return cmd
}

func readParams(inline, file string) (json.RawMessage, error) {
	switch {
	case inline != "" && file != "":
		return nil, fmt.Errorf("use either --params or --params-file")
	case inline != "":
		return json.RawMessage(inline), nil
	case file == "-":
		data, err := io.ReadAll(os.Stdin)
		return json.RawMessage(data), err
	case file != "":
		data, err := os.ReadFile(file)
		return json.RawMessage(data), err
	default:
		return nil, fmt.Errorf("parameters are required (--params or --params-file)")
	}
}

// newProgressReporter draws a progress bar on terminals and prints one line
// per stage change otherwise.
func newProgressReporter(w io.Writer, description string) func(models.ProgressEvent) {
	if f, ok := w.(*os.File); ok && isTerminal(f.Fd()) {
		bar := progressbar.NewOptions(100,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
		)
		return func(ev models.ProgressEvent) {
			_ = bar.Set(int(ev.Percent))
			if ev.Stage == models.StageCompleted {
				_ = bar.Finish()
			} else if ev.Stage.Terminal() {
				fmt.Fprintf(w, "\n%s: %s\n", ev.Stage, ev.Message)
			}
		}
	}

	last := models.ProgressStage("")
	lastTenth := -1
	return func(ev models.ProgressEvent) {
		tenth := int(ev.Percent) / 10
		if ev.Stage == last && tenth == lastTenth {
			return
		}
		last, lastTenth = ev.Stage, tenth
		line := fmt.Sprintf("%s %s %5.1f%%", description, ev.Stage, ev.Percent)
		if ev.SegmentID != "" {
			line += " segment=" + ev.SegmentID
		}
		if ev.Message != "" {
			line += " " + ev.Message
		}
		fmt.Fprintln(w, line)
	}
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
