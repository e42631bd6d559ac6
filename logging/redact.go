package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Redacted replaces secret values in log output and client messages.
const Redacted = "[REDACTED]"

// minSecretLen keeps very short values (e.g. a one-letter username) from
// blanking out unrelated text.
const minSecretLen = 3

// Secret is a string that never renders its value through slog or fmt.
type Secret string

// LogValue implements slog.LogValuer.
func (Secret) LogValue() slog.Value { return slog.StringValue(Redacted) }

// String implements fmt.Stringer.
func (Secret) String() string { return Redacted }

// GoString implements fmt.GoStringer.
func (Secret) GoString() string { return Redacted }

// Scrub replaces every occurrence of each secret in s.
func Scrub(s string, secrets ...string) string {
	for _, secret := range secrets {
		if len(secret) < minSecretLen {
			continue
		}
		s = strings.ReplaceAll(s, secret, Redacted)
	}
	return s
}

// Redact returns a logger whose records have secrets scrubbed from the
// message and from every attribute, including errors and groups.
func Redact(logger *slog.Logger, secrets ...string) *slog.Logger {
	return slog.New(NewRedactingHandler(logger.Handler(), secrets...))
}

type redactingHandler struct {
	next    slog.Handler
	secrets []string
}

// NewRedactingHandler wraps next so that secrets never reach it.
func NewRedactingHandler(next slog.Handler, secrets ...string) slog.Handler {
	return &redactingHandler{next: next, secrets: Maskable(secrets...)}
}

// Maskable drops values too short to be scrubbed without mangling
// unrelated text.
func Maskable(secrets ...string) []string {
	kept := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if len(s) >= minSecretLen {
			kept = append(kept, s)
		}
	}
	return kept
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, Scrub(r.Message, h.secrets...), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.scrubAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = h.scrubAttr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(scrubbed), secrets: h.secrets}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name), secrets: h.secrets}
}

func (h *redactingHandler) scrubAttr(a slog.Attr) slog.Attr {
	if len(h.secrets) == 0 {
		return a
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		a.Value = slog.StringValue(Scrub(v.String(), h.secrets...))
	case slog.KindGroup:
		group := v.Group()
		scrubbed := make([]slog.Attr, len(group))
		for i, ga := range group {
			scrubbed[i] = h.scrubAttr(ga)
		}
		a.Value = slog.GroupValue(scrubbed...)
	case slog.KindAny:
		var text string
		if err, ok := v.Any().(error); ok {
			text = err.Error()
		} else {
			text = fmt.Sprintf("%+v", v.Any())
		}
		if scrubbed := Scrub(text, h.secrets...); scrubbed != text {
			a.Value = slog.StringValue(scrubbed)
		} else {
			a.Value = v
		}
	default:
		a.Value = v
	}
	return a
}
