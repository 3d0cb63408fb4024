package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

func (s Severity) rank() int {
	switch s {
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Event is an operator-facing alert raised by the distributor.
type Event struct {
	Severity Severity
	Title    string
	Message  string
	Err      error
	Fields   map[string]string
}

// Text renders the event as a single plain-text message.
func (e Event) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(string(e.Severity)), e.Title)
	if e.Message != "" {
		b.WriteString("\n")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, "\nerror: %v", e.Err)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, e.Fields[k])
	}
	return b.String()
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
