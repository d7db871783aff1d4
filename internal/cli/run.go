package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aretw0/latch"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/aretw0/latch/pkg/persistence/middleware"
	"github.com/aretw0/latch/pkg/ports"
	"github.com/aretw0/latch/pkg/push"
	"github.com/muesli/termenv"
)

// LoginOptions configures RunLogin.
type LoginOptions struct {
	Username string
	Password string
	Quiet    bool
}

// RunLogin logs in interactively and prints the resulting account.
func RunLogin(ctx context.Context, stack *Stack, prompter *TerminalPrompter, out io.Writer, opts LoginOptions) error {
	if !opts.Quiet {
		PrintBanner(out)
	}

	username := opts.Username
	var err error
	if username == "" {
		if username, err = prompter.Line(ctx, "Username: "); err != nil {
			return err
		}
	}
	password := opts.Password
	if password == "" {
		if password, err = prompter.Secret(ctx, "Password: "); err != nil {
			return err
		}
	}

	sess, err := stack.Client.Login(ctx, username, password, prompter)
	if err != nil {
		if kind, ok := domain.KindOf(err); ok {
			return fmt.Errorf("login failed (%s): %w", kind, err)
		}
		return fmt.Errorf("login failed: %w", err)
	}

	p := termenv.ColorProfile()
	fmt.Fprintln(out, termenv.String("✓ Logged in").Foreground(p.Color("#34d399")).Bold())
	printSystemMessage(out, "Account %s (%s)", sess.Username, sess.UserID)
	return nil
}

// ListCredentials prints every stored key. Sensitive values are masked unless reveal is set.
func ListCredentials(ctx context.Context, store ports.CredentialStore, out io.Writer, reveal bool) error {
	view := store
	if !reveal {
		view = middleware.Chain(store, middleware.NewMaskMiddleware(middleware.SensitiveKeys))
	}
	keys, err := view.Keys(ctx)
	if err != nil {
		return fmt.Errorf("listing credentials: %w", err)
	}
	if len(keys) == 0 {
		fmt.Fprintln(out, "No stored credentials.")
		return nil
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := view.Get(ctx, k)
		if err != nil {
			return fmt.Errorf("reading %s: %w", k, err)
		}
		fmt.Fprintf(out, "%-18s %s\n", k, v)
	}
	return nil
}

// GetCredential prints one stored value.
func GetCredential(ctx context.Context, store ports.CredentialStore, out io.Writer, key string, reveal bool) error {
	view := store
	if !reveal {
		view = middleware.Chain(store, middleware.NewMaskMiddleware(middleware.SensitiveKeys))
	}
	v, err := view.Get(ctx, key)
	if errors.Is(err, domain.ErrCredentialNotFound) {
		return fmt.Errorf("credential %q not found", key)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, v)
	return nil
}

// RemoveCredentials deletes the given keys, or every key when all is set.
func RemoveCredentials(ctx context.Context, store ports.CredentialStore, out io.Writer, keys []string, all bool) error {
	if all {
		var err error
		if keys, err = store.Keys(ctx); err != nil {
			return err
		}
	}
	var errs []error
	for _, k := range keys {
		if err := store.Delete(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", k, err))
			continue
		}
		fmt.Fprintf(out, "Removed '%s'\n", k)
	}
	return errors.Join(errs...)
}

// PrintPushAuth derives realtime credentials from the stored session.
func PrintPushAuth(ctx context.Context, stack *Stack, out io.Writer, reveal bool) error {
	sess, err := latch.LoadSession(ctx, stack.Store)
	if err != nil {
		return err
	}
	creds, err := push.FromSession(sess, stack.Transport)
	if err != nil {
		return err
	}

	password := creds.Password
	if !reveal {
		password = middleware.Masked
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]string{
		"client_id":  creds.ClientID,
		"account_id": creds.AccountID,
		"password":   password,
	})
}
