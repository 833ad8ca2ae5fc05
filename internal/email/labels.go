package email

import (
	"context"
	"fmt"
	"strings"
)

// EnsureLabel returns the ID of the label called name, matched without
// regard to case, creating it when the account has none.
func EnsureLabel(ctx context.Context, mb Mailbox, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("label name is empty")
	}

	labels, err := mb.ListLabels(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list labels: %w", err)
	}
	for _, l := range labels {
		if strings.EqualFold(l.Name, name) {
			return l.ID, nil
		}
	}

	id, err := mb.CreateLabel(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to create label %q: %w", name, err)
	}
	return id, nil
}
