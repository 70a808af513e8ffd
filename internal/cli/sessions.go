package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	adminhttp "github.com/aretw0/hs2pool/pkg/adapters/http"
	"github.com/aretw0/hs2pool/pkg/domain"
)

// ListSessions prints the records of key as a table, or as JSON.
func ListSessions(ctx context.Context, rt *Runtime, key domain.PoolKey, w io.Writer, asJSON bool) error {
	sessions, err := rt.Manager.Sessions(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to list sessions of %s: %w", key, err)
	}

	if asJSON {
		views := make([]adminhttp.SessionView, 0, len(sessions))
		for _, s := range sessions {
			views = append(views, adminhttp.View(s))
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	if len(sessions) == 0 {
		fmt.Fprintf(w, "No sessions found for %s.\n", key)
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOORDINATOR\tSTATUS\tIN USE\tCREATED\tLAST USED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
			s.ID(), s.Coordinator, s.Status, s.InUse,
			s.CreatedAt.Format(time.RFC3339), s.LastUsedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

// InspectSession prints one record as JSON, without its secret.
func InspectSession(ctx context.Context, rt *Runtime, key domain.PoolKey, id string, w io.Writer) error {
	s, err := rt.Store.Get(ctx, key, id)
	if err != nil {
		return fmt.Errorf("failed to load session '%s': %w", id, err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(adminhttp.View(s))
}

// CountSessions prints the number of active sessions of key.
func CountSessions(ctx context.Context, rt *Runtime, key domain.PoolKey, w io.Writer) error {
	n, err := rt.Store.CountActive(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to count sessions of %s: %w", key, err)
	}
	fmt.Fprintln(w, n)
	return nil
}

// RemoveSessions drops the records of ids. With closeRemote the manager also
// tries to close each remote session; the record goes either way.
func RemoveSessions(ctx context.Context, rt *Runtime, key domain.PoolKey, ids []string, closeRemote bool, w io.Writer) error {
	var errs []error
	for _, id := range ids {
		s, err := rt.Store.Get(ctx, key, id)
		if err != nil {
			fmt.Fprintf(w, "Error removing '%s': %v\n", id, err)
			errs = append(errs, err)
			continue
		}

		if closeRemote {
			if err := rt.Manager.Close(ctx, s); err != nil {
				fmt.Fprintf(w, "Removed session '%s' (remote close failed: %v)\n", id, err)
				continue
			}
		} else if err := rt.Store.Delete(ctx, s); err != nil {
			fmt.Fprintf(w, "Error removing '%s': %v\n", id, err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(w, "Removed session '%s'\n", id)
	}
	return errors.Join(errs...)
}
