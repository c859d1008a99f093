package main

import (
	"encoding/json"
	"fmt"
	"os"
)

func writeJSON(payload any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

// write prints payload as JSON, or runs plain otherwise.
func (g *globals) write(payload any, plain func() error) error {
	if g.jsonOutput {
		return writeJSON(payload)
	}
	return plain()
}
