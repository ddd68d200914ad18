//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"testing"
)

// workerScript is a stand-in for the claude CLI. It receives the full
// prompt as its last argument, extracts the signal file path and the
// output directory from it, drops a plausible artifact and signals
// DONE. The author and implementer turns are told apart by the role
// name embedded in the signal filename.
const workerScript = `#!/bin/sh
for arg; do prompt="$arg"; done
sig=$(printf '%s' "$prompt" | grep -o '[^ ]*\.signal' | head -n 1)
dir=$(printf '%s' "$prompt" | sed -n 's/.*in this directory: //p' | head -n 1)

case "$sig" in
*author*)
	cat > "$dir/add_test.go" <<'EOF'
package add

import "testing"

// add must sum its arguments
func TestAdd(t *testing.T) {
	if Add(2, 3) != 5 {
		t.Fatalf("Add(2, 3) != 5")
	}
}
EOF
	printf 'DONE\n%s/add_test.go\n' "$dir" > "$sig"
	;;
*implementer*)
	cat > "$dir/add.go" <<'EOF'
package add

func Add(a, b int) int {
	return a + b
}
EOF
	printf 'DONE\n%s/add.go\n' "$dir" > "$sig"
	;;
*)
	printf 'BLOCKED: unknown role\n' > "$sig"
	;;
esac
`

// writeWorkerScript installs the stub worker executable into a temp
// directory and returns its path.
func writeWorkerScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-claude")
	if err := os.WriteFile(path, []byte(workerScript), 0o755); err != nil {
		t.Fatalf("writing worker script: %v", err)
	}
	return path
}
