package judge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/sempr/labjudge/pkg/constants"
	"github.com/sempr/labjudge/pkg/models"
)

type Compiler struct {
	toolchain Toolchain
	timeout   time.Duration
}

func NewCompiler(tc Toolchain, timeout time.Duration) *Compiler {
	if timeout <= 0 {
		timeout = constants.DefaultCompileTimeout
	}
	return &Compiler{toolchain: tc, timeout: timeout}
}

// Compile builds src into the fixed binary path inside workDir. Anything on
// the diagnostic stream counts as a failure, even with a zero exit code.
func (c *Compiler) Compile(ctx context.Context, src, workDir string) *models.CompileResult {
	args := c.toolchain.compileArgs(src, workDir)
	if len(args) == 0 {
		return &models.CompileResult{Status: constants.StatusFailed, Output: "no compile command configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = workDir
	cmd.Env = c.toolchain.environ()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcAttr(cmd)
	cmd.Cancel = func() error { return killProcess(cmd) }
	cmd.WaitDelay = time.Second

	slog.Debug("compiling", "cmd", strings.Join(args, " "), "work_dir", workDir)
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := &models.CompileResult{ElapsedMs: elapsed.Milliseconds()}
	diag := strings.TrimSpace(stderr.String())
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Status = constants.StatusFailed
		result.Output = fmt.Sprintf("compile too long (limit %dms)", c.timeout.Milliseconds())
	case err != nil:
		result.Status = constants.StatusFailed
		result.Output = diag
		if result.Output == "" {
			result.Output = strings.TrimSpace(stdout.String() + "\n" + err.Error())
		}
	case diag != "":
		result.Status = constants.StatusFailed
		result.Output = diag
	default:
		result.Status = constants.StatusSuccess
		result.Output = "Compiled successfully"
		result.BinaryPath = BinaryPath(workDir)
	}
	slog.Info("compile finished", "status", result.Status, "elapsed_ms", result.ElapsedMs)
	return result
}
