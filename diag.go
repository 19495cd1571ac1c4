package uradvd

import (
	"fmt"
	"log/slog"
	"os"
)

// Diagnostics implements spec.md §4.9's two severities on top of the
// teacher's chosen logger (daemon.go/advertiser.go both take a
// *slog.Logger). Warnings continue; fatal errors log then exit(1).
type Diagnostics struct {
	logger *slog.Logger
	// exit is os.Exit by default; overridden in tests so Fatalf can be
	// exercised without killing the test binary.
	exit func(code int)
}

func NewDiagnostics(logger *slog.Logger) *Diagnostics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Diagnostics{logger: logger, exit: os.Exit}
}

func (d *Diagnostics) Warnf(format string, args ...any) {
	d.logger.Warn(fmt.Sprintf(format, args...))
}

func (d *Diagnostics) Debugf(format string, args ...any) {
	d.logger.Debug(fmt.Sprintf(format, args...))
}

func (d *Diagnostics) Infof(format string, args ...any) {
	d.logger.Info(fmt.Sprintf(format, args...))
}

// Fatalf logs an error-level message and terminates the process with exit
// code 1, matching uradvd.c's exit_error/exit_errno (lines 114–121).
func (d *Diagnostics) Fatalf(format string, args ...any) {
	d.logger.Error(fmt.Sprintf(format, args...))
	d.exit(1)
}
