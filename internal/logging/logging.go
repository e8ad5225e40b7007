package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
)

// New builds a logger writing to stderr. format is "text", "json" or "cli".
func New(level, format string) (*log.Logger, error) {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter is New with an explicit destination
func NewWithWriter(w io.Writer, level, format string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var handler log.Handler
	switch format {
	case "", "text":
		handler = text.New(w)
	case "json":
		handler = json.New(w)
	case "cli":
		handler = cli.New(w)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	return &log.Logger{Handler: handler, Level: lvl}, nil
}

// Install makes l the package-level apex logger, so log.Info and friends use it too
func Install(l *log.Logger) {
	log.SetHandler(l.Handler)
	log.SetLevel(l.Level)
}
