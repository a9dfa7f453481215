package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// Output prints command results as text or JSON.
type Output struct {
	w      io.Writer
	format string
}

// NewOutput creates an Output. Any format other than "json" prints text.
func NewOutput(w io.Writer, format string) *Output {
	return &Output{w: w, format: format}
}

// Print writes v as indented JSON, or falls back to the text line.
func (o *Output) Print(v any, text string) error {
	if o.format == "json" {
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(o.w, text)
	return err
}
