package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type entry struct {
	Level   string         `json:"level"`
	Time    string         `json:"time"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

var levels = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

var (
	mu        sync.Mutex
	out       io.Writer = os.Stdout
	threshold           = 1
	asJSON              = false
)

// Configure sets the minimum level ("debug", "info", "warn", "error") and the
// output format ("text" or "json"). Unknown values keep the current setting.
func Configure(level, format string) {
	mu.Lock()
	defer mu.Unlock()
	if n, ok := levels[strings.ToLower(level)]; ok {
		threshold = n
	}
	switch strings.ToLower(format) {
	case "json":
		asJSON = true
	case "text":
		asJSON = false
	}
}

// SetOutput redirects log lines and returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	mu.Lock()
	defer mu.Unlock()
	prev := out
	out = w
	return prev
}

func Log(level, msg string, fields map[string]any) {
	mu.Lock()
	defer mu.Unlock()
	if levels[level] < threshold {
		return
	}
	now := time.Now().UTC()
	if asJSON {
		e := entry{Level: level, Time: now.Format(time.RFC3339Nano), Message: msg, Fields: fields}
		b, _ := json.Marshal(e)
		fmt.Fprintln(out, string(b))
		return
	}
	fmt.Fprintln(out, formatText(now, level, msg, fields))
}

// formatText renders "15:04:05 INFO  message key=value ..." with keys sorted.
func formatText(now time.Time, level, msg string, fields map[string]any) string {
	var b strings.Builder
	b.WriteString(now.Format("15:04:05"))
	b.WriteByte(' ')
	fmt.Fprintf(&b, "%-5s ", strings.ToUpper(level))
	b.WriteString(msg)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(fields[k])
		if strings.ContainsAny(v, " \t") {
			v = fmt.Sprintf("%q", v)
		}
		fmt.Fprintf(&b, " %s=%s", k, v)
	}
	return b.String()
}

func Debug(msg string, fields map[string]any) { Log("debug", msg, fields) }
func Info(msg string, fields map[string]any)  { Log("info", msg, fields) }
func Warn(msg string, fields map[string]any)  { Log("warn", msg, fields) }
func Error(msg string, fields map[string]any) { Log("error", msg, fields) }
