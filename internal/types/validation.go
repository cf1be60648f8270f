package types

import (
	"context"
	"fmt"
	"strings"

	"github.com/cbbshop1/solace-sentience/internal/shardqueue"
)

// ------------------------------
// Shared Interfaces
// ------------------------------

// Executor serializes reconciliation handlers per key (used by every component).
type Executor interface {
	Submit(context.Context, string, shardqueue.Job) error
	Barrier(context.Context, string) error
}

// ------------------------------
// Validation
// ------------------------------

// ValidateIDPresent checks that a required identifier is non-empty.
func ValidateIDPresent(id, name string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}

// NormalizeMessage trims surrounding whitespace; ok is false when nothing remains.
func NormalizeMessage(text string) (string, bool) {
	t := strings.TrimSpace(text)
	return t, t != ""
}
