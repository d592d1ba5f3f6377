// Package report renders a finished run as a Markdown transcript or as
// JSON.
package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/Strob0t/opsloop/internal/domain"
	"github.com/Strob0t/opsloop/internal/domain/run"
)

// Format selects the report encoding.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat accepts "markdown", "md" or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unknown report format %q", domain.ErrValidation, s)
}

// Ext returns the file extension for f.
func (f Format) Ext() string {
	if f == FormatJSON {
		return "json"
	}
	return "md"
}

//go:embed report.md.tmpl
var markdownSource string

var markdownTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"exit":     exitText,
	"duration": durationText,
	"fence":    fence,
	"code":     inlineCode,
	"utc":      func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}).Parse(markdownSource))

// Render writes r to w in the given format.
func Render(w io.Writer, r *run.Run, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		return nil
	case FormatMarkdown, "":
		if err := markdownTmpl.Execute(w, view{Run: r, Steps: r.Ledger.Steps()}); err != nil {
			return fmt.Errorf("render report: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown report format %q", domain.ErrValidation, f)
}

// WriteFile renders r into dir/report_<host>_<port>_<UTC timestamp>_<run id>.<ext>
// and returns the path written. Only the first 8 characters of the run ID
// are used.
func WriteFile(dir string, r *run.Run, f Format) (string, error) {
	var buf bytes.Buffer
	if err := Render(&buf, r, f); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	ts := r.FinishedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	id := safeName(r.ID)
	if len(id) > 8 {
		id = id[:8]
	}
	name := fmt.Sprintf("report_%s_%d_%s_%s.%s",
		safeName(r.Target.Host), r.Target.Port, ts.UTC().Format("20060102T150405Z"), id, f.Ext())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

type view struct {
	Run   *run.Run
	Steps []run.Step
}

func exitText(o *run.Outcome) string {
	if o == nil {
		return "-"
	}
	if code, ok := o.ExitCode(); ok {
		return fmt.Sprint(code)
	}
	if o.TimedOut {
		return "timeout"
	}
	return "none"
}

func durationText(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

// fence wraps s in a code block whose fence is longer than any backtick
// run inside it.
func fence(s string) string {
	longest, cur := 0, 0
	for _, r := range s {
		if r == '`' {
			cur++
			longest = max(longest, cur)
		} else {
			cur = 0
		}
	}
	f := strings.Repeat("`", max(3, longest+1))
	return f + "\n" + strings.TrimRight(s, "\n") + "\n" + f
}

// inlineCode renders s as a single-line code span. The delimiter is longer
// than any backtick run in s and line breaks are shown as \n.
func inlineCode(s string) string {
	s = strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(s)
	longest, cur := 0, 0
	for _, r := range s {
		if r == '`' {
			cur++
			longest = max(longest, cur)
		} else {
			cur = 0
		}
	}
	d := strings.Repeat("`", longest+1)
	if strings.HasPrefix(s, "`") || strings.HasSuffix(s, "`") {
		s = " " + s + " "
	}
	return d + s + d
}

func safeName(host string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		}
		return '_'
	}, host)
}
