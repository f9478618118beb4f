package logger

import (
	"fmt"
	"io"

	echolog "github.com/labstack/gommon/log"
)

// EchoLoggerAdapter routes echo's internal logging into a module logger.
//
//	e := echo.New()
//	e.Logger = logger.NewEchoLoggerAdapter(log.Module("echo"))
type EchoLoggerAdapter struct {
	logger Logger
	level  echolog.Lvl
}

// NewEchoLoggerAdapter creates an adapter. A nil logger discards output.
func NewEchoLoggerAdapter(log Logger) *EchoLoggerAdapter {
	if log == nil {
		log = NewDiscardLogger()
	}
	return &EchoLoggerAdapter{logger: log, level: echolog.INFO}
}

// Output is unused; output is owned by the wrapped logger.
func (a *EchoLoggerAdapter) Output() io.Writer      { return io.Discard }
func (a *EchoLoggerAdapter) SetOutput(io.Writer)    {}
func (a *EchoLoggerAdapter) Prefix() string         { return "" }
func (a *EchoLoggerAdapter) SetPrefix(string)       {}
func (a *EchoLoggerAdapter) Level() echolog.Lvl     { return a.level }
func (a *EchoLoggerAdapter) SetLevel(l echolog.Lvl) { a.level = l }
func (a *EchoLoggerAdapter) SetHeader(string)       {}

func (a *EchoLoggerAdapter) Print(i ...any)                    { a.logger.Info(fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Printf(format string, args ...any) { a.logger.Info(fmt.Sprintf(format, args...)) }
func (a *EchoLoggerAdapter) Printj(j echolog.JSON)             { a.logger.Info("echo", Any("data", j)) }

func (a *EchoLoggerAdapter) Debug(i ...any)                    { a.logger.Debug(fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Debugf(format string, args ...any) { a.logger.Debug(fmt.Sprintf(format, args...)) }
func (a *EchoLoggerAdapter) Debugj(j echolog.JSON)             { a.logger.Debug("echo", Any("data", j)) }

func (a *EchoLoggerAdapter) Info(i ...any)                    { a.logger.Info(fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Infof(format string, args ...any) { a.logger.Info(fmt.Sprintf(format, args...)) }
func (a *EchoLoggerAdapter) Infoj(j echolog.JSON)             { a.logger.Info("echo", Any("data", j)) }

func (a *EchoLoggerAdapter) Warn(i ...any)                    { a.logger.Warn(fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Warnf(format string, args ...any) { a.logger.Warn(fmt.Sprintf(format, args...)) }
func (a *EchoLoggerAdapter) Warnj(j echolog.JSON)             { a.logger.Warn("echo", Any("data", j)) }

func (a *EchoLoggerAdapter) Error(i ...any)                    { a.logger.Error(fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Errorf(format string, args ...any) { a.logger.Error(fmt.Sprintf(format, args...)) }
func (a *EchoLoggerAdapter) Errorj(j echolog.JSON)             { a.logger.Error("echo", Any("data", j)) }

// Fatal logs at error level and panics so the server can shut down cleanly.
func (a *EchoLoggerAdapter) Fatal(i ...any) {
	msg := fmt.Sprint(i...)
	a.logger.Error(msg)
	panic("echo fatal error: " + msg)
}

func (a *EchoLoggerAdapter) Fatalf(format string, args ...any) { a.Fatal(fmt.Sprintf(format, args...)) }
func (a *EchoLoggerAdapter) Fatalj(j echolog.JSON)             { a.Fatal(fmt.Sprint(j)) }

func (a *EchoLoggerAdapter) Panic(i ...any) {
	msg := fmt.Sprint(i...)
	a.logger.Error(msg)
	panic(msg)
}

func (a *EchoLoggerAdapter) Panicf(format string, args ...any) { a.Panic(fmt.Sprintf(format, args...)) }
func (a *EchoLoggerAdapter) Panicj(j echolog.JSON)             { a.Panic(fmt.Sprint(j)) }
