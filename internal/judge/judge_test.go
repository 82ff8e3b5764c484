package judge

import (
	"os"
	"path/filepath"
	"testing"
)

// writeProgram drops an executable shell script into dir, standing in for a
// compiled binary.
func writeProgram(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "output")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

// shellToolchain "compiles" by copying the source script into place.
func shellToolchain() Toolchain {
	return Toolchain{
		Name: "sh",
		Cmd: CmdInfo{
			Compile: []string{"/bin/sh", "-c", "cp {src} {out} && chmod 755 {out}"},
			Run:     []string{"{out}"},
		},
	}
}

const sumProgram = `read a b; echo $((a+b))`
