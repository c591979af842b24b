// Command qsengine is a self-contained quantum-safe engine helper speaking
// the bridge protocol: it takes an operation and a JSON parameter object as
// arguments and writes a single JSON response to stdout. Key material is
// cached on disk per subject token so sessions survive across invocations.
//
// Usage:
//
//	qsengine <operation> [params-json]
//
// The state directory defaults to the user cache dir and can be overridden
// with QSENGINE_STATE_DIR.
package main

import (
	"encoding/json"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		respond(&response{Success: false, ErrorMessage: "Invalid operation: no operation given"})
		return
	}
	operation := os.Args[1]

	params := map[string]any{}
	if len(os.Args) > 2 && os.Args[2] != "" {
		if err := json.Unmarshal([]byte(os.Args[2]), &params); err != nil {
			respond(&response{Success: false, ErrorMessage: fmt.Sprintf("Invalid JSON parameters: %v", err)})
			return
		}
	}

	eng, err := newEngine(stateDir())
	if err != nil {
		respond(&response{Success: false, ErrorMessage: fmt.Sprintf("Engine state not available: %v", err)})
		return
	}

	respond(eng.handle(operation, params))
}

func stateDir() string {
	if dir := os.Getenv("QSENGINE_STATE_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return ".qsengine"
	}
	return base + "/qsengine"
}

func respond(resp *response) {
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(resp)
}
