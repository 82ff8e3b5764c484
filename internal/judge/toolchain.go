package judge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/sempr/labjudge/pkg/constants"
)

// Toolchain describes how to build and start a submission. Arguments may use
// {src}, {out} and {dir}, replaced with the source path, the binary path and
// the job's work dir.
type Toolchain struct {
	Name string  `toml:"name"`
	Cmd  CmdInfo `toml:"cmd"`
}

type CmdInfo struct {
	Compile []string `toml:"compile"`
	Run     []string `toml:"run"`
	Env     []string `toml:"env"`
}

func DefaultToolchain() Toolchain {
	return Toolchain{
		Name: "g++",
		Cmd: CmdInfo{
			Compile: []string{"g++", "{src}", "-o", "{out}"},
			Run:     []string{"{out}"},
		},
	}
}

// LoadToolchain reads a toolchain TOML file. Missing commands fall back to
// the g++ defaults.
func LoadToolchain(path string) (Toolchain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Toolchain{}, fmt.Errorf("read toolchain file: %w", err)
	}
	tc := DefaultToolchain()
	var parsed Toolchain
	if err := toml.Unmarshal(data, &parsed); err != nil {
		return Toolchain{}, fmt.Errorf("parse toolchain file %s: %w", path, err)
	}
	if parsed.Name != "" {
		tc.Name = parsed.Name
	}
	if len(parsed.Cmd.Compile) > 0 {
		tc.Cmd.Compile = parsed.Cmd.Compile
	}
	if len(parsed.Cmd.Run) > 0 {
		tc.Cmd.Run = parsed.Cmd.Run
	}
	tc.Cmd.Env = parsed.Cmd.Env
	return tc, nil
}

// BinaryPath is where the compiler writes the program for workDir.
func BinaryPath(workDir string) string {
	return filepath.Join(workDir, constants.BinaryName)
}

func expand(args []string, src, out, dir string) []string {
	r := strings.NewReplacer("{src}", src, "{out}", out, "{dir}", dir)
	expanded := make([]string, len(args))
	for i, a := range args {
		expanded[i] = r.Replace(a)
	}
	return expanded
}

func (tc Toolchain) compileArgs(src, workDir string) []string {
	return expand(tc.Cmd.Compile, src, BinaryPath(workDir), workDir)
}

func (tc Toolchain) runArgs(binary, workDir string) []string {
	return expand(tc.Cmd.Run, "", binary, workDir)
}

func (tc Toolchain) environ() []string {
	if len(tc.Cmd.Env) == 0 {
		return nil
	}
	return append(os.Environ(), tc.Cmd.Env...)
}
