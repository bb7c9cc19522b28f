// Package testutil writes throwaway module executables for tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// ReverseModule is a shell module exposing "string", which reverses a JSON
// string read from stdin, and "fail", which writes to stderr and exits 3.
const ReverseModule = `#!/bin/sh
if [ "$1" = "metadata" ]; then
cat <<'META'
{
  "name": "reverse",
  "description": "reverses strings",
  "actions": [
    {"name": "string", "description": "reverse a string", "input": {"type": "string"}, "output": {"type": "string"}},
    {"name": "fail", "input": {"type": "object", "properties": {"reason": {"type": "string"}}}}
  ]
}
META
exit 0
fi

case "$1" in
string)
  awk '{ s = ""; for (i = length($0); i > 0; i--) s = s substr($0, i, 1); print s }'
  ;;
fail)
  cat >/dev/null
  echo "failing on purpose" >&2
  exit 3
  ;;
*)
  echo "unknown action $1" >&2
  exit 64
  ;;
esac
`

// BrokenModule answers the metadata query with a document that has no
// module name.
const BrokenModule = `#!/bin/sh
if [ "$1" = "metadata" ]; then
  echo '{"actions": [{"name": "x", "input": {"type": "object"}}]}'
  exit 0
fi
exit 1
`

// Script returns a module called name with a single action "run" taking an
// object. body is executed for "run" after stdin has been consumed.
func Script(name, body string) string {
	return fmt.Sprintf(`#!/bin/sh
if [ "$1" = "metadata" ]; then
  echo '{"name": "%s", "actions": [{"name": "run", "input": {"type": "object"}}]}'
  exit 0
fi
cat >/dev/null
%s
`, name, body)
}

// WriteModule writes an executable module file into dir and returns its path.
func WriteModule(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write module %s: %v", name, err)
	}
	return path
}
