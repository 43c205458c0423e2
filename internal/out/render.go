package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/MithrandirBalrog/Clawlett/internal/model"
)

// Mode selects the rendering style.
const (
	ModeJSON  = "json"
	ModePlain = "plain"
)

// Render writes the envelope in the requested mode. JSON output is indented
// and stable for scripting; plain output flattens each data item into sorted
// key=value lines.
func Render(w io.Writer, env model.Envelope, mode string) error {
	if mode == ModeJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}

	if env.Error != nil {
		if _, err := fmt.Fprintf(w, "error: %s (code %d)\n", env.Error.Message, env.Error.Code); err != nil {
			return err
		}
	}
	for _, warning := range env.Warnings {
		if _, err := fmt.Fprintf(w, "warning: %s\n", warning); err != nil {
			return err
		}
	}
	if env.Data == nil {
		return nil
	}
	return renderPlain(w, env.Data)
}

func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			line, err := toLine(normalizeValue(v.Index(i).Interface()))
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		return nil
	default:
		line, err := toLine(normalizeValue(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) (string, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, t[k]))
		}
		return strings.Join(parts, " "), nil
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
}

// SwapBanner prints a colored one-line outcome for interactive use. No-op
// styling when the writer is not a terminal; the color package handles that.
func SwapBanner(w io.Writer, summary model.SwapSummary) {
	status := color.New(color.FgYellow).Sprint("quoted")
	if summary.Executed {
		status = color.New(color.FgGreen).Sprint("executed")
	}
	fmt.Fprintf(w, "%s %s %s -> %s %s (min %s) via %s\n",
		status,
		summary.AmountIn, summary.FromToken,
		summary.AmountOut, summary.ToToken,
		summary.MinAmountOut,
		summary.Venue,
	)
}
