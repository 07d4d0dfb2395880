package typedb

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Exit codes reported for regenerations that could not run or that the
// analyzer rejected.
const (
	ExitInvalidArgument   = -1
	ExitInvalidOperation  = -2
	ExitAlreadyGenerating = -3
	ExitNotSupported      = -4
)

// GenerateRequest describes one regeneration.
type GenerateRequest struct {
	// SkipUnchanged lets the analyzer keep modules whose sources are
	// unchanged.
	SkipUnchanged bool
	// ExtraInputs are further databases the analyzer may read.
	ExtraInputs []string
	// WaitToken is handed to the analyzer to correlate the run. A random
	// token is used when empty.
	WaitToken string
}

// GenerateDatabase launches the analyzer to rebuild the database directory
// and returns the run's wait token without waiting for it. onExit, when
// non-nil, receives one of the Exit constants or the analyzer's exit code;
// it runs after the post-exit refresh.
func (f *Factory) GenerateDatabase(req GenerateRequest, onExit func(exitCode int)) string {
	token := req.WaitToken
	if token == "" {
		token = uuid.NewString()
	}
	report := func(code int) {
		regenerationsTotal.WithLabelValues(exitStatus(code)).Inc()
		if onExit != nil {
			onExit(code)
		}
	}

	switch {
	case f.cfg.AnalyzerPath == "":
		report(ExitNotSupported)
		return token
	case f.cfg.InterpreterPath == "", f.cfg.LibraryPath == "":
		report(ExitInvalidArgument)
		return token
	}

	f.mu.Lock()
	if f.generating || f.state.IsGenerating {
		f.mu.Unlock()
		report(ExitAlreadyGenerating)
		return token
	}
	f.generating = true
	f.state.IsGenerating = true
	f.mu.Unlock()

	if err := os.MkdirAll(f.cfg.DatabasePath, 0o755); err != nil {
		f.logger.Error("cannot create database directory", "path", f.cfg.DatabasePath, "error", err)
		f.appendGlobalLog(ExitInvalidOperation, token, err.Error())
		f.setGenerating(false)
		report(ExitInvalidOperation)
		return token
	}

	cmd := exec.Command(f.cfg.AnalyzerPath, f.analyzerArgs(req, token)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		f.logger.Error("cannot start analyzer", "analyzer", f.cfg.AnalyzerPath, "error", err)
		f.appendGlobalLog(ExitInvalidOperation, token, err.Error())
		f.setGenerating(false)
		report(ExitInvalidOperation)
		return token
	}
	f.logger.Info("regenerating database",
		"path", f.cfg.DatabasePath, "pid", cmd.Process.Pid, "token", token)
	f.changed.fire()

	go func() {
		code := exitCode(cmd.Wait())
		if code >= ExitNotSupported && code <= ExitInvalidArgument {
			f.appendGlobalLog(code, token, stderr.String())
		}
		if code != 0 {
			f.logger.Warn("analyzer failed", "path", f.cfg.DatabasePath, "exit_code", code, "token", token)
		}
		f.mu.Lock()
		f.generating = false
		f.mu.Unlock()
		wasValid := f.IsCurrent()
		if code == 0 {
			f.dropCurrent()
		}
		st := f.RefreshIsCurrent()
		// A validity flip already replaced the database inside the refresh.
		if code == 0 && wasValid == st.IsValid() {
			f.newDB.fire()
		}
		report(code)
	}()
	return token
}

func (f *Factory) analyzerArgs(req GenerateRequest, token string) []string {
	args := []string{
		"--id", f.cfg.InterpreterID,
		"--version", f.version.String(),
		"--interpreter", f.cfg.InterpreterPath,
		"--library", f.cfg.LibraryPath,
		"--output", f.cfg.DatabasePath,
	}
	for _, p := range f.cfg.BaselinePaths {
		args = append(args, "--baseline", p)
	}
	for _, p := range req.ExtraInputs {
		args = append(args, "--input", p)
	}
	if req.SkipUnchanged {
		args = append(args, "--skip-unchanged")
	}
	args = append(args,
		"--log", filepath.Join(f.cfg.DatabasePath, AnalysisLogFileName),
		"--global-log", f.cfg.GlobalLogPath,
		"--wait", token,
	)
	return args
}

// exitCode extracts the process exit code. Codes 252-255 are the analyzer's
// negative sentinels truncated to a byte and are mapped back.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) || ee.ExitCode() < 0 {
		// Wait failures and signal deaths carry no exit code.
		return ExitInvalidOperation
	}
	return normalizeExitCode(ee.ExitCode())
}

func normalizeExitCode(code int) int {
	if code >= 256+ExitNotSupported && code <= 256+ExitInvalidArgument {
		return code - 256
	}
	return code
}

func exitStatus(code int) string {
	switch {
	case code == 0:
		return "ok"
	case code >= ExitNotSupported && code <= ExitInvalidArgument:
		return "rejected"
	default:
		return "failed"
	}
}

// appendGlobalLog records a failed regeneration in the global log.
func (f *Factory) appendGlobalLog(code int, token, detail string) {
	path := f.cfg.GlobalLogPath
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		f.logger.Warn("cannot create global log directory", "path", path, "error", err)
		return
	}
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		f.logger.Warn("cannot open global log", "path", path, "error", err)
		return
	}
	defer fh.Close()

	fmt.Fprintf(fh, "%s REGENERATE_FAILED %d %s %s %s\n",
		time.Now().UTC().Format(time.RFC3339), code, f.cfg.InterpreterID, f.version, token)
	if detail = strings.TrimSpace(detail); detail != "" {
		for _, line := range strings.Split(detail, "\n") {
			fmt.Fprintf(fh, "    %s\n", line)
		}
	}
}
