package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"
)

// printJSON writes v as indented JSON to stdout
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// renderTable prints rows under header, or a short notice when empty
func renderTable(header []string, rows [][]string, empty string) error {
	if len(rows) == 0 {
		pterm.Info.Println(empty)
		return nil
	}
	data := pterm.TableData{header}
	data = append(data, rows...)
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
