package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/internal/logging"
)

func main() {
	var (
		scriptFile  = flag.String("script", "", "Path to a .wast test script")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		failFast    = flag.Bool("fail-fast", false, "Stop at the first failing command")
	)
	flag.Parse()

	if *scriptFile == "" && flag.NArg() > 0 {
		*scriptFile = flag.Arg(0)
	}
	if *scriptFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: wast-run [-v] [-i] [-fail-fast] <script.wast>")
		os.Exit(1)
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			logging.SetLogger(logger)
			defer logger.Sync()
		}
	}

	if *interactive {
		if err := runInteractive(*scriptFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*scriptFile, *failFast); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(scriptFile string, failFast bool) error {
	source, err := os.ReadFile(scriptFile)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	ctx := context.Background()
	d := engine.NewDriver(ctx)
	defer d.Close(ctx)

	results, parseErrs := d.RunScript(ctx, string(source))
	if len(parseErrs) > 0 {
		for _, e := range parseErrs {
			fmt.Fprintf(os.Stderr, "%s:%s\n", scriptFile, e.Error())
		}
		return fmt.Errorf("%d parse errors", len(parseErrs))
	}

	reportResults(os.Stdout, scriptFile, results, failFast)

	if s := engine.Summarize(results); s.Failed > 0 {
		return fmt.Errorf("%d of %d commands failed", s.Failed, s.Failed+s.Passed+s.Skipped)
	}
	return nil
}
