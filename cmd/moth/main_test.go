package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const printDoc = `
functions:
  - name: main
    blocks:
      - - move: {to: "%0", from: {string: hello}}
        - exp: {call: {base: print, args: ["%0"]}}
        - move: {to: "%1", from: {const: 40}}
        - move: {to: "%2", from: {const: 2}}
        - move: {to: "%1", from: {binop: {op: add, left: "%1", right: "%2"}}}
        - ret: "%1"
`

// project writes an IR file and a moth.toml with a relative cache path
// into a fresh directory.
func project(t *testing.T, doc string) (dir, file, config string) {
	t.Helper()
	dir = t.TempDir()
	file = filepath.Join(dir, "main.yaml")
	config = filepath.Join(dir, "moth.toml")
	if err := os.WriteFile(file, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	toml := "[cache]\npath = \"build/units.db\"\n"
	if err := os.WriteFile(config, []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir, file, config
}

func TestRunPrintsResult(t *testing.T) {
	dir, file, config := project(t, printDoc)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-config", config, file}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if got := stdout.String(); got != "hello\n42\n" {
		t.Errorf("stdout = %q, want hello then 42", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "build", "units.db")); err != nil {
		t.Errorf("cache database not created: %v", err)
	}
}

func TestRunWithoutCache(t *testing.T) {
	dir, file, config := project(t, printDoc)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-config", config, "-no-cache", file}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "build")); !os.IsNotExist(err) {
		t.Errorf("cache directory created with -no-cache: %v", err)
	}
}

func TestDisassemble(t *testing.T) {
	_, file, config := project(t, printDoc)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-config", config, "-dis", file}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "function main() frame") {
		t.Errorf("disassembly header missing:\n%s", out)
	}
	if strings.Contains(out, "hello\n") {
		t.Error("-dis ran the program")
	}
}

func TestDumpIR(t *testing.T) {
	_, file, config := project(t, printDoc)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-config", config, "-ir", file}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	for _, want := range []string{"function main()", "L0:", "return %1"} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("IR listing missing %q:\n%s", want, stdout.String())
		}
	}
}

func TestRunErrors(t *testing.T) {
	_, file, config := project(t, "functions:\n  - name: main\n    blocks:\n      - - leave\n")

	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"no file", []string{"-config", config}, 2, "expected exactly one IR file"},
		{"missing file", []string{"-config", config, filepath.Join(filepath.Dir(file), "nope.yaml")}, 1, "nope.yaml"},
		{"selection error", []string{"-config", config, file}, 1, "unsupported statement"},
		{"extra args with -lsp", []string{"-config", config, "-lsp", file}, 2, "unexpected arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != tt.code {
				t.Errorf("exit %d, want %d", code, tt.code)
			}
			if !strings.Contains(stderr.String(), tt.want) {
				t.Errorf("stderr = %q, want it to mention %q", stderr.String(), tt.want)
			}
		})
	}
}

func TestUncaughtException(t *testing.T) {
	_, file, config := project(t, `
functions:
  - name: main
    blocks:
      - - move: {to: "%0", from: {string: boom}}
        - exp: {call: {base: {builtin: throw}, args: ["%0"]}}
        - ret: "%0"
`)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-config", config, file}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "Uncaught boom") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestTempOutsideFrameIsAnError(t *testing.T) {
	_, file, config := project(t, `
functions:
  - name: main
    locals: [a, b, c]
    temps: 4
    blocks:
      - - move: {to: "%3", from: {const: 1}}
        - ret: "%3"
`)
	for _, args := range [][]string{
		{"-config", config, file},
		{"-config", config, "-no-cache", file},
	} {
		var stdout, stderr bytes.Buffer
		if code := run(args, &stdout, &stderr); code != 1 {
			t.Errorf("%v: expected exit 1, got %d", args, code)
		}
		if !strings.Contains(stderr.String(), "outside frame") {
			t.Errorf("%v: expected an outside-frame error, got %q", args, stderr.String())
		}
	}
}
