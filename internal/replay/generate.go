// Package replay turns logged lines back into calls, either as a source
// snippet the user can run or by invoking the call directly on the host.
package replay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/coffersTech/callspy/internal/codec"
	"github.com/coffersTech/callspy/internal/model"
	"github.com/coffersTech/callspy/internal/pkg/argtext"
	"github.com/coffersTech/callspy/internal/value"
)

var (
	// ErrNoPath is returned for lines that carry no endpoint path.
	ErrNoPath = errors.New("could not parse a path from the selected entry")
	// ErrResolution is returned when a path segment does not exist.
	ErrResolution = errors.New("path resolution failed")
	// ErrEvaluation is returned when the argument text cannot be turned
	// into values.
	ErrEvaluation = errors.New("argument evaluation failed")
)

// resolveHelper walks the path from the root one child at a time and
// stops at the first missing segment.
const resolveHelper = `local function resolve(path)
	local node = game
	for segment in string.gmatch(path, "[^%.]+") do
		local child = node:FindFirstChild(segment)
		if child == nil then
			error("replay: " .. path .. ": missing segment " .. segment)
		end
		node = child
	end
	return node
end
`

// Generator renders replay snippets.
type Generator struct{}

// Generate decodes line and returns source that repeats the call.
func (Generator) Generate(line string) (string, error) {
	e, err := decodeActionable(line)
	if err != nil {
		return "", err
	}
	args, err := argtext.Rewrite(e.ArgsText)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	var b strings.Builder
	b.WriteString(resolveHelper)
	b.WriteString("\n")
	fmt.Fprintf(&b, "local target = resolve(%s)\n", value.Quote(e.DottedPath()))
	call := fmt.Sprintf("target:%s(%s)", e.ReplayMethod, args)
	if returnsValue(e) {
		fmt.Fprintf(&b, "local result = %s\nprint(result)\n", call)
	} else {
		b.WriteString(call + "\n")
	}
	return b.String(), nil
}

func returnsValue(e codec.Entry) bool {
	return e.ReplayMethod == model.InvokeServer || e.ReplayMethod == model.Invoke
}

// decodeActionable decodes line and requires a path.
func decodeActionable(line string) (codec.Entry, error) {
	e, err := codec.Decode(line)
	if err != nil || !e.Kind.Actionable() || len(e.Path) == 0 {
		return codec.Entry{}, ErrNoPath
	}
	return e, nil
}
