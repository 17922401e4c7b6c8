// Package logger writes one-line structured log records:
//
//	INFO register command applied {"tenant":"acme","kind":"supply"}
package logger

import (
	"encoding/json"
	"log"
	"strings"
	"unicode/utf8"
)

type Fields map[string]any

// maxTextLen caps free-text values (notes) so a pasted essay doesn't flood logs.
const maxTextLen = 200

var freeTextKeys = map[string]struct{}{
	"notes":       {},
	"open_notes":  {},
	"close_notes": {},
	"details":     {},
}

func Info(message string, fields Fields) {
	log.Printf("INFO %s %s", message, fieldsJSON(fields))
}

func Warn(message string, fields Fields) {
	log.Printf("WARN %s %s", message, fieldsJSON(fields))
}

func Error(message string, err error, fields Fields) {
	base := Fields{}
	for k, v := range fields {
		base[k] = v
	}
	if err != nil {
		base["error"] = err.Error()
	}

	log.Printf("ERROR %s %s", message, fieldsJSON(base))
}

func fieldsJSON(fields Fields) string {
	if fields == nil {
		fields = Fields{}
	}

	out := make(Fields, len(fields))
	for k, v := range fields {
		out[k] = clip(k, v)
	}

	b, err := json.Marshal(out)
	if err != nil {
		return `{}`
	}
	return string(b)
}

func clip(key string, value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if _, free := freeTextKeys[strings.ToLower(key)]; !free || len(s) <= maxTextLen {
		return s
	}
	cut := maxTextLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
