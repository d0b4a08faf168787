// Command skein validates and executes declarative pipeline documents.
//
//	skein validate <pipeline.yml>
//	skein run <pipeline.yml> [-var key=value ...] [-watch]
//	skein serve [-config config.yml]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/skein-dev/skein/internal/config"
	"github.com/skein-dev/skein/internal/engine"
	"github.com/skein-dev/skein/internal/events"
	"github.com/skein-dev/skein/internal/httpapi"
	"github.com/skein-dev/skein/internal/logging"
	"github.com/skein-dev/skein/internal/persistence"
	"github.com/skein-dev/skein/internal/pipeline"
	"github.com/skein-dev/skein/internal/scheduler"
	"github.com/skein-dev/skein/internal/tui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		err = runValidate(os.Args[2:])
	case "run":
		err = runRun(ctx, os.Args[2:])
	case "serve":
		err = runServe(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  skein validate <pipeline.yml>")
	fmt.Fprintln(os.Stderr, "  skein run <pipeline.yml> [-var key=value ...] [-watch]")
	fmt.Fprintln(os.Stderr, "  skein serve [-config config.yml]")
}

// varFlags accumulates repeated -var key=value flags.
type varFlags map[string]any

func (v varFlags) String() string { return "" }

func (v varFlags) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	v[key] = value
	return nil
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("validate requires exactly one pipeline file")
	}

	doc, err := pipeline.Load(fs.Arg(0))
	if err != nil {
		return err
	}

	eng := engine.New(engine.Options{Logger: logging.Nop()})
	if errs := eng.Validate(doc); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  %s\n", e.Error())
		}
		return fmt.Errorf("%d validation findings", len(errs))
	}

	fmt.Printf("%s (version %s): %d tasks, valid\n", doc.Name, doc.Version, len(doc.Tasks))
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	vars := varFlags{}
	fs.Var(vars, "var", "initial run variable, key=value (repeatable)")
	watch := fs.Bool("watch", false, "render live progress in the terminal")
	logLevel := fs.String("log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("run requires exactly one pipeline file")
	}

	doc, err := pipeline.Load(fs.Arg(0))
	if err != nil {
		return err
	}

	log := logging.New(*logLevel, "console")
	bus := events.NewBus()
	defer bus.Close()

	eng := engine.New(engine.Options{Bus: bus, Logger: log})

	var report *scheduler.RunReport
	if *watch {
		report, err = runWatched(ctx, eng, bus, doc, vars)
	} else {
		report, err = eng.Run(ctx, doc, vars)
	}
	if err != nil {
		var verrs pipeline.ValidationErrors
		if errors.As(err, &verrs) {
			for _, e := range verrs {
				fmt.Fprintf(os.Stderr, "  %s\n", e.Error())
			}
			return fmt.Errorf("%d validation findings", len(verrs))
		}
		return err
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))

	if report.OverallStatus != scheduler.RunSucceeded {
		return fmt.Errorf("run %s finished with status %s", report.RunID, report.OverallStatus)
	}
	return nil
}

// runWatched drives the run in the background while the TUI consumes the
// event stream in the foreground.
func runWatched(ctx context.Context, eng *engine.Engine, bus *events.Bus, doc *pipeline.Document, vars map[string]any) (*scheduler.RunReport, error) {
	taskIDs := make([]string, len(doc.Tasks))
	for i, t := range doc.Tasks {
		taskIDs[i] = t.ID
	}

	ch := bus.SubscribeAll(0)
	program := tea.NewProgram(tui.New(doc.Name, taskIDs, ch))

	runID, err := eng.StartRun(ctx, doc, vars)
	if err != nil {
		return nil, err
	}

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watcher error: %v\n", err)
	}

	// Even a cancelled run finalizes its report; collect it regardless of
	// the signal context's state.
	return eng.Wait(context.Background(), runID)
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFile := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	var store persistence.Store
	if cfg.DatabasePath != "" {
		sqlStore, err := persistence.NewSQLiteStore(ctx, cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer sqlStore.Close()
		store = sqlStore
	}

	bus := events.NewBus()
	defer bus.Close()

	eng := engine.New(engine.Options{Store: store, Bus: bus, Logger: log})
	api := httpapi.NewServer(ctx, eng, log)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Router()}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
