package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type Logger struct {
	mu      *sync.Mutex
	out     io.Writer
	err     io.Writer
	json    bool
	quiet   bool
	verbose bool
}

func DefaultLogger() *Logger {
	return NewLogger(os.Stdout, os.Stderr, false, false, false)
}

func NewLogger(out, err io.Writer, json, quiet, verbose bool) *Logger {
	return &Logger{
		mu:      &sync.Mutex{},
		out:     out,
		err:     err,
		json:    json,
		quiet:   quiet,
		verbose: verbose,
	}
}

type ctxKey struct{}

// WithContext returns a context carrying l.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// Ctx returns the logger stored in ctx, or a default logger writing to
// stdout/stderr when there is none.
func Ctx(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return DefaultLogger()
}

// Out writes a line of command output to the output stream, regardless of verbosity.
func (l *Logger) Out(f string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, f+"\n", args...)
}

func (l *Logger) Info(tag string, f string, args ...interface{}) {
	if l.quiet {
		return
	}
	l.print("info", color.New(color.FgHiGreen), tag, f, args...)
}

func (l *Logger) Warn(tag string, f string, args ...interface{}) {
	l.print("warn", color.New(color.FgHiYellow), tag, f, args...)
}

func (l *Logger) Debug(tag string, f string, args ...interface{}) {
	if !l.verbose {
		return
	}
	l.print("debug", color.New(color.FgGreen), tag, f, args...)
}

func (l *Logger) print(level string, tagColor *color.Color, tag, f string, args ...interface{}) {
	str := fmt.Sprintf(f, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.json {
		json.NewEncoder(l.err).Encode(struct {
			Time    time.Time `json:"time"`
			Level   string    `json:"level"`
			Tag     string    `json:"tag,omitempty"`
			Message string    `json:"msg"`
		}{time.Now().UTC(), level, tag, str})
		return
	}
	for _, line := range strings.Split(str, "\n") {
		fmt.Fprintf(l.err, "%s  %s\n",
			tagColor.Sprint(tag),
			color.WhiteString(line))
	}
}

type Writer struct {
	log *Logger
	tag string
}

// InfoWriter returns a writer that logs each written line under tag.
// Used to relay subprocess output.
func (l *Logger) InfoWriter(tag string) *Writer {
	return &Writer{
		log: l,
		tag: tag,
	}
}

func (w *Writer) Write(data []byte) (n int, err error) {
	if w.log.quiet {
		return len(data), nil
	}
	w.log.mu.Lock()
	defer w.log.mu.Unlock()
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		fmt.Fprintf(w.log.err, "%s  %s\n",
			color.HiYellowString(w.tag),
			color.HiWhiteString(line))
	}
	return len(data), nil
}
