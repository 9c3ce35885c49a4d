package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// ANSI
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Dim    = "\033[2m"
	White  = "\033[97m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Red    = "\033[31m"
	Cyan   = "\033[36m"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func heading(title string) {
	fmt.Printf("  %s%s%s%s\n", Bold, White, title, Reset)
}

func statusColor(status string) string {
	switch status {
	case "COMPLETED", "COMPENSATED":
		return Green
	case "STARTED", "PROCESSING", "COMPENSATING":
		return Yellow
	case "FAILED":
		return Red
	default:
		return Dim
	}
}
