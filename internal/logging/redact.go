// Package logging wraps zap with secret redaction and small event/timer
// helpers used by the ingestion pipeline.
package logging

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Redacted replaces secret values in log output.
const Redacted = "[REDACTED]"

// secretKeys are field-name fragments whose values are always redacted.
var secretKeys = []string{
	"authorization",
	"api_key",
	"apikey",
	"password",
	"secret",
	"token",
	"bearer",
	"credential",
}

var valuePatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=\-]+`), "${1}" + Redacted},
	{regexp.MustCompile(`(?i)([?&](?:key|api_key|apikey|token|access_token)=)[^&\s"]+`), "${1}" + Redacted},
	{regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`), Redacted},
	{regexp.MustCompile(`sk-ant-[A-Za-z0-9_\-]+`), Redacted},
}

// IsSecretKey reports whether a field named key must never be logged verbatim.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	if k == "key" {
		return true
	}
	for _, s := range secretKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// RedactString scrubs credential-looking substrings from s.
func RedactString(s string) string {
	for _, p := range valuePatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}

// redactingCore scrubs fields and messages before they reach the wrapped core.
type redactingCore struct {
	zapcore.Core
}

// NewRedactingCore wraps core so that secrets never reach the sink.
func NewRedactingCore(core zapcore.Core) zapcore.Core {
	return &redactingCore{Core: core}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = RedactString(ent.Message)
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = redactField(f)
	}
	return out
}

func redactField(f zapcore.Field) zapcore.Field {
	if IsSecretKey(f.Key) {
		return zap.String(f.Key, Redacted)
	}
	switch f.Type {
	case zapcore.StringType:
		f.String = RedactString(f.String)
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && err != nil {
			return zap.String(f.Key, RedactString(err.Error()))
		}
	case zapcore.StringerType:
		if s, ok := f.Interface.(interface{ String() string }); ok {
			return zap.String(f.Key, RedactString(s.String()))
		}
	}
	return f
}
