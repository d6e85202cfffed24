package batch

import (
	"fmt"
	"strings"

	"strato/internal/stager"
)

// shellPrelude makes payload failures fail the job instead of scrolling by.
const shellPrelude = "set -euo pipefail"

// buildCommand renders the container command for a payload reference. Inline
// payloads travel percent-encoded inside the command string and are decoded
// on the worker before execution; staged payloads become their bootstrap.
func buildCommand(ref stager.PayloadReference) []string {
	var script string
	if ref.Staged() {
		script = strings.Join(append([]string{shellPrelude}, ref.Bootstrap...), "; ")
	} else {
		quoted := strings.ReplaceAll(ref.Inline, `'`, `'\''`)
		script = strings.Join([]string{
			shellPrelude,
			`PAYLOAD=$(mktemp --tmpdir strato-job.XXXXX)`,
			fmt.Sprintf(`printf '%%s' '%s' | sed -e 's/%%0A/\n/g' -e 's/%%25/%%/g' > "$PAYLOAD"`, quoted),
			`chmod +x "$PAYLOAD"`,
			`exec "$PAYLOAD"`,
		}, "; ")
	}
	return []string{"/bin/bash", "-c", script}
}
