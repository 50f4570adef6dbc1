// Copyright 2025 The OPA Authors
// SPDX-License-Identifier: Apache-2.0

//go:build e2e

package cli

import (
	"cmp"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rogpeppe/go-internal/testscript"
)

func testServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /lib/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("content-type", "text/javascript")
		fmt.Fprintf(w, "/* remote %s */\n", r.PathValue("name"))
	})
	mux.HandleFunc("GET /private/{name}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, "/* private %s */\n", r.PathValue("name"))
	})

	return httptest.NewServer(mux)
}

func TestScript(t *testing.T) {
	mergectl := cmp.Or(os.Getenv("MERGECTL"), "mergectl")
	srv := testServer()
	t.Cleanup(srv.Close)
	endpoint := srv.Listener.Addr().String()

	testscript.Run(t, testscript.Params{
		Dir: ".",
		Setup: func(e *testscript.Env) error {
			e.Vars = append(e.Vars,
				"HTTP_ENDPOINT="+endpoint,
				"MERGECTL="+mergectl,
			)
			for _, kv := range os.Environ() {
				if strings.HasPrefix(kv, "E2E_") {
					e.Vars = append(e.Vars, kv)
				}
			}
			return nil
		},
		Condition: func(cond string) (bool, error) {
			args := strings.Split(cond, ":")
			name := args[0]
			switch name {
			case "env":
				if len(args) < 2 {
					return false, fmt.Errorf("syntax: [env:SOME_VAR]")
				}
				return os.Getenv(args[1]) != "", nil
			default:
				return false, fmt.Errorf("unknown condition %s", name)
			}
		},
		Cmds: map[string]func(*testscript.TestScript, bool, []string){
			"retry":  retryCmd,
			"expand": expandCmd,
		},
		// NB: To quickly update expectations in txtar files, try re-running the tests with
		// E2E_UPDATE=y, for example:
		//   E2E_UPDATE=y go test -tags e2e ./e2e/cli -run TestScript/build_check -v -count=1
		UpdateScripts: os.Getenv("E2E_UPDATE") != "",
	})
}

// retryCmd implements a builtin command that waits until a command is successful
// by retrying up to 5 times with exponential delay starting with 2 seconds.
func retryCmd(ts *testscript.TestScript, neg bool, args []string) {
	if len(args) == 0 {
		ts.Fatalf("usage: retry command [args...]")
	}

	const maxRetries = 5
	const initialDelay = 2 * time.Second

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			delay := initialDelay * (1 << (i - 1))
			ts.Logf("retrying in %v (attempt %d/%d)", delay, i+1, maxRetries)
			time.Sleep(delay)
		}

		err := ts.Exec(args[0], args[1:]...)
		if err == nil {
			if neg {
				ts.Fatalf("unexpected command success")
			}
			return
		}
		lastErr = err
	}

	if neg {
		return
	}

	ts.Fatalf("command failed after %d attempts: %v", maxRetries, lastErr)
}

// expandCmd implements a builtin command that replaces $VAR and ${VAR}
// references in the named files with values from the script environment.
// References to unset variables are kept.
func expandCmd(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! expand")
	}
	if len(args) == 0 {
		ts.Fatalf("usage: expand file...")
	}

	for _, name := range args {
		content := os.Expand(ts.ReadFile(name), func(v string) string {
			if value := ts.Getenv(v); value != "" {
				return value
			}
			return "${" + v + "}"
		})
		if err := os.WriteFile(ts.MkAbs(name), []byte(content), 0o644); err != nil {
			ts.Fatalf("expand %s: %v", name, err)
		}
	}
}
