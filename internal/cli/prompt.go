package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/aretw0/latch/internal/runtime"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// TerminalPrompter asks the user for codes and checkpoint fields.
// Secrets are read with echo disabled when input is a terminal.
type TerminalPrompter struct {
	in      *bufio.Reader
	out     io.Writer
	fd      int
	isTTY   bool
	profile termenv.Profile
}

// NewTerminalPrompter reads from in and writes prompts to out. When in is
// os.Stdin attached to a terminal, secrets are read without echo.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	p := &TerminalPrompter{
		in:      bufio.NewReader(in),
		out:     out,
		fd:      -1,
		profile: termenv.Ascii,
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
		p.isTTY = true
		p.profile = termenv.ColorProfile()
	}
	return p
}

func (p *TerminalPrompter) style(s, color string) termenv.Style {
	return termenv.String(s).Foreground(p.profile.Color(color))
}

func (p *TerminalPrompter) warn(err error) {
	if err != nil {
		fmt.Fprintln(p.out, p.style("! "+err.Error(), "#fb7185"))
	}
}

func (p *TerminalPrompter) line(ctx context.Context, label string) (string, error) {
	fmt.Fprint(p.out, p.style(label, "#a78bfa"))
	type result struct {
		s   string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := p.in.ReadString('\n')
		ch <- result{strings.TrimSpace(s), err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil && !(errors.Is(r.err, io.EOF) && r.s != "") {
			return "", r.err
		}
		return r.s, nil
	}
}

// Secret reads a value without echo on a terminal.
func (p *TerminalPrompter) Secret(ctx context.Context, label string) (string, error) {
	if !p.isTTY {
		return p.line(ctx, label)
	}
	fmt.Fprint(p.out, p.style(label, "#a78bfa"))
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return string(b), nil
}

// Line reads one line of plain input.
func (p *TerminalPrompter) Line(ctx context.Context, label string) (string, error) {
	return p.line(ctx, label)
}

// TwoFactorCode implements ports.Prompter. Typing a method name instead of a
// code switches method; "notification" waits for device approval.
func (p *TerminalPrompter) TwoFactorCode(ctx context.Context, pending domain.TwoFactorPending, lastErr error) (domain.TwoFactorMethod, string, error) {
	p.warn(lastErr)
	method := pending.Method
	if len(pending.Context.Available) > 1 {
		names := make([]string, len(pending.Context.Available))
		for i, m := range pending.Context.Available {
			names[i] = string(m)
		}
		fmt.Fprintf(p.out, "Available methods: %s\n", strings.Join(names, ", "))
	}
	if phone := pending.Context.ObfuscatedPhone; phone != "" && method == domain.MethodSMS {
		fmt.Fprintf(p.out, "A code was sent to %s\n", phone)
	}

	for {
		code, err := p.line(ctx, fmt.Sprintf("Verification code (%s): ", method))
		if err != nil {
			return "", "", err
		}
		if m, ok := domain.ParseTwoFactorMethod(strings.ToLower(code)); ok {
			if m == domain.MethodNotification {
				return m, "", nil
			}
			method = m
			continue
		}
		if code != "" {
			return method, code, nil
		}
	}
}

// CheckpointInput implements ports.Prompter.
func (p *TerminalPrompter) CheckpointInput(ctx context.Context, pending domain.CheckpointPending, lastErr error) (map[string]string, error) {
	p.warn(lastErr)
	fmt.Fprintf(p.out, "Security checkpoint: %s\n", pending.StepKind)

	switch pending.StepKind {
	case domain.StepSelectMethod:
		keys := make([]string, 0, len(pending.Choices))
		for k := range pending.Choices {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(p.out, "  [%s] %s\n", k, pending.Choices[k])
		}
		choice, err := p.line(ctx, "Send the code to: ")
		return map[string]string{runtime.FieldChoice: choice}, err
	case domain.StepCodeEntry:
		if pending.Contact != "" {
			fmt.Fprintf(p.out, "A code was sent to %s\n", pending.Contact)
		}
		code, err := p.line(ctx, "Security code: ")
		return map[string]string{runtime.FieldSecurityCode: code}, err
	case domain.StepAcknowledge:
		_, err := p.line(ctx, "Press enter to confirm it was you: ")
		return map[string]string{runtime.FieldChoice: "0"}, err
	case domain.StepSubmitPhone:
		phone, err := p.line(ctx, "Phone number: ")
		return map[string]string{runtime.FieldPhoneNumber: phone}, err
	case domain.StepSubmitEmail:
		email, err := p.line(ctx, "Email: ")
		return map[string]string{runtime.FieldEmail: email}, err
	}
	return nil, fmt.Errorf("%w: step %s cannot be completed from the terminal", domain.ErrInvalidStep, pending.StepKind)
}
