package apperr

import (
	"context"
	"errors"
	"strings"
)

// keywordKinds maps message fragments to kinds for errors that arrive without
// a taxonomy kind. Order matters: the first matching group wins.
var keywordKinds = []struct {
	kind     Kind
	keywords []string
}{
	{KindRateLimit, []string{"rate limit", "too many requests", "429", "quota"}},
	{KindAI, []string{"gemini", "anthropic", "generatecontent", "model", " ai ", "ai:"}},
	{KindDuplicate, []string{"duplicate", "unique constraint", "already exists", "23505"}},
	{KindAuth, []string{"unauthorized", "unauthenticated", "invalid token", "forbidden", "auth"}},
}

// Classify returns err as an *Error. Typed errors anywhere in the chain are
// returned unchanged. Anything else is a foreign error and is classified by
// message keywords, defaulting to KindInternal. Only foreign errors should
// ever reach the keyword path.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindAI, err, "upstream call timed out", nil)
	}

	msg := " " + strings.ToLower(err.Error()) + " "
	for _, group := range keywordKinds {
		for _, kw := range group.keywords {
			if strings.Contains(msg, kw) {
				return Wrap(group.kind, err, err.Error(), nil)
			}
		}
	}
	return Wrap(KindInternal, err, "internal error", nil)
}

// KindOf returns the kind of err after classification.
func KindOf(err error) Kind {
	if e := Classify(err); e != nil {
		return e.Kind
	}
	return ""
}
