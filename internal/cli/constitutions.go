package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"concourse/internal/constitution"
)

// ListConstitutions prints every selectable constitution module.
func ListConstitutions(ctx context.Context, out io.Writer, catalog *constitution.Catalog) error {
	mods, err := catalog.Modules(ctx)
	if err != nil {
		return err
	}
	if len(mods) == 0 {
		fmt.Fprintln(out, "No constitution modules available")
		return nil
	}
	for _, m := range mods {
		fmt.Fprintf(out, "%-8s %s  (%s)\n", m.Scope, m.Title, m.ID)
	}
	return nil
}

// ShowConstitution prints a module's full text.
func ShowConstitution(ctx context.Context, out io.Writer, catalog *constitution.Catalog, moduleID string) error {
	body, ok := catalog.Content(ctx, moduleID)
	fmt.Fprintln(out, body)
	if !ok {
		return fmt.Errorf("constitution %s could not be loaded", moduleID)
	}
	return nil
}

// SubmitConstitution uploads a document, read from the given file or stdin
// when path is "-".
func SubmitConstitution(ctx context.Context, out io.Writer, catalog *constitution.Catalog, path, visibility string) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("reading constitution text: %w", err)
	}

	res, err := catalog.Submit(ctx, string(data), strings.TrimSpace(visibility))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s\n", res.Status, res.Message)
	return nil
}
