// Package logging wires the process-wide slog logger: a colored console
// handler plus an optional plain-text log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/syftbackup/internal/utils"
)

type Options struct {
	Level   slog.Level
	Console *os.File
	// FilePath is truncated on every start. Empty disables file logging.
	FilePath string
}

// Setup installs the default logger and returns a closer for the log file.
func Setup(opts Options) (io.Closer, error) {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	consoleHandler := tint.NewHandler(console, &tint.Options{
		Level:      opts.Level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(console.Fd()),
	})

	if opts.FilePath == "" {
		slog.SetDefault(slog.New(consoleHandler))
		return io.NopCloser(nil), nil
	}

	if err := utils.EnsureParent(opts.FilePath); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	seqWriter := NewSequenceWriter(file)
	fileHandler := slog.NewTextHandler(seqWriter, &slog.HandlerOptions{
		Level: opts.Level,
		// the sequence writer stamps the time
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(NewFanoutHandler(consoleHandler, fileHandler)))
	return &fileCloser{writer: seqWriter, file: file}, nil
}

type fileCloser struct {
	writer *SequenceWriter
	file   *os.File
}

func (c *fileCloser) Close() error {
	flushErr := c.writer.Close()
	if err := c.file.Close(); err != nil {
		return err
	}
	return flushErr
}
