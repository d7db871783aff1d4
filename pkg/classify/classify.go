// Package classify turns raw server replies into a closed set of error kinds.
//
// Classification runs in a fixed order. Categorical markers found anywhere in the
// raw body win first. Then the error fragment's message is matched against a
// phrase table, and the matched category is refined by a deeper parse of the
// action tree when it needs more data. Anything left over is reported, never
// swallowed: an unmatched fragment yields KindUnclassified with the raw
// category, and a reply with neither marker nor fragment is malformed.
package classify

import (
	"strings"

	"github.com/aretw0/latch/pkg/domain"
)

// Result is the outcome of classifying one reply.
type Result struct {
	Kind     domain.ErrorKind
	Category string
	Message  string

	// Set when Kind is KindCheckpointRequired.
	Challenge *Challenge
	// Set when Kind is KindTwoFactorRequired.
	TwoFactor *TwoFactor
}

type marker struct {
	literal  string
	category string
	kind     domain.ErrorKind
	// dialog routes classification to the interaction phrase list.
	dialog bool
}

// categoricalMarkers are literal substrings of the raw body, in priority order.
var categoricalMarkers = []marker{
	{literal: "challenge_required", category: "challenge_required", kind: domain.KindCheckpointRequired},
	{literal: "checkpoint_required", category: "checkpoint_required", kind: domain.KindCheckpointRequired},
	{literal: "com.bloks.www.two_step_verification.entrypoint", category: "two_factor_required", kind: domain.KindTwoFactorRequired},
	{literal: "two_factor_required", category: "two_factor_required", kind: domain.KindTwoFactorRequired},
	{literal: "login_first_password_failure", category: "login_first_password_failure", kind: domain.KindIncorrectPassword},
	{literal: "An unexpected error occurred", category: "unexpected_error", kind: domain.KindUnexpectedLoginError},
	{literal: "login_failure_dialog", category: "login_failure_dialog", dialog: true},
}

type phrase struct {
	text    string
	kind    domain.ErrorKind
	message string
}

// fragmentPhrases match the message of a bare error fragment.
var fragmentPhrases = []phrase{
	{text: "password you entered is incorrect", kind: domain.KindIncorrectPassword},
	{text: "incorrect password", kind: domain.KindIncorrectPassword},
	{text: "an unexpected error occurred", kind: domain.KindUnexpectedLoginError},
	{text: "code you entered is incorrect", kind: domain.KindInvalid2FACode},
	{text: "please check the security code", kind: domain.KindInvalid2FACode},
	{text: "please check the code we sent you", kind: domain.KindInvalid2FACode},
	{text: "this code is no longer valid", kind: domain.KindInvalid2FACode},
	{text: "username you entered doesn't appear to belong", kind: domain.KindInvalidUsername},
	{text: "please wait a few minutes", kind: domain.KindTooManyAttempts},
}

// dialogPhrases match the text of a login failure dialog.
var dialogPhrases = []phrase{
	{text: "account has been disabled", kind: domain.KindAccountDisabled, message: "The account has been disabled."},
	{text: "too many login attempts", kind: domain.KindTooManyAttempts, message: "Too many login attempts. Wait before trying again."},
	{text: "doesn't appear to belong to an account", kind: domain.KindInvalidUsername, message: "The username does not belong to an account."},
	{text: "requested to delete", kind: domain.KindAccountDeletionRequested, message: "The account is scheduled for deletion."},
	{text: "entered the wrong code too many times", kind: domain.KindTooManyAttempts, message: "Too many incorrect codes. Wait before trying again."},
	{text: "there was a problem with your request", kind: domain.KindUnexpectedLoginError, message: "The server reported a generic error."},
	{text: "can't find an account", kind: domain.KindInvalidUsername, message: "No account matches the username."},
}

// Classify maps a raw reply and its (optional) error fragment to a Result.
func Classify(raw string, frag *Fragment) Result {
	return classify(raw, frag, func() *Response { return Decode(raw) })
}

// ClassifyResponse classifies an already decoded reply.
func ClassifyResponse(r *Response) Result {
	return classify(r.Raw, r.Fragment(), func() *Response { return r })
}

func classify(raw string, frag *Fragment, decoded func() *Response) Result {
	for _, m := range categoricalMarkers {
		if !strings.Contains(raw, m.literal) {
			continue
		}
		if m.dialog {
			return classifyDialog(raw, frag, m.category)
		}
		res := Result{Kind: m.kind, Category: m.category, Message: fragmentMessage(frag)}
		return refine(res, decoded())
	}

	if frag != nil {
		if p, ok := matchPhrase(fragmentPhrases, frag.Message); ok {
			return Result{Kind: p.kind, Category: frag.ErrorType, Message: frag.Message}
		}
		category := frag.ErrorType
		if category == "" {
			category = frag.Title
		}
		return Result{Kind: domain.KindUnclassified, Category: category, Message: frag.Message}
	}

	return Result{Kind: domain.KindMalformedProtocolResponse, Message: "reply carries neither a known marker nor an error fragment"}
}

func classifyDialog(raw string, frag *Fragment, category string) Result {
	text := raw
	if frag != nil {
		text = frag.Title + " " + frag.Message + " " + raw
	}
	if p, ok := matchPhrase(dialogPhrases, text); ok {
		msg := p.message
		if frag != nil && frag.Message != "" {
			msg = frag.Message
		}
		return Result{Kind: p.kind, Category: category, Message: msg}
	}
	return Result{Kind: domain.KindUnclassified, Category: category, Message: fragmentMessage(frag)}
}

// refine runs the deeper parse a routing category needs. A category whose
// required data is missing is reported as malformed.
func refine(res Result, r *Response) Result {
	switch res.Kind {
	case domain.KindCheckpointRequired:
		ch, ok := ChallengeFrom(r)
		if !ok {
			return malformed(res, "checkpoint reply carries no challenge path")
		}
		res.Challenge = ch
	case domain.KindTwoFactorRequired:
		tf, ok := TwoFactorFrom(r)
		if !ok {
			return malformed(res, "two-factor reply carries no verification context")
		}
		res.TwoFactor = tf
	}
	return res
}

func malformed(res Result, msg string) Result {
	return Result{Kind: domain.KindMalformedProtocolResponse, Category: res.Category, Message: msg}
}

func matchPhrase(table []phrase, text string) (phrase, bool) {
	lower := strings.ToLower(text)
	for _, p := range table {
		if strings.Contains(lower, p.text) {
			return p, true
		}
	}
	return phrase{}, false
}

func fragmentMessage(f *Fragment) string {
	if f == nil {
		return ""
	}
	return f.Message
}

// Err converts a failing Result into a *domain.ProtocolError.
func (r Result) Err(state domain.ChallengeState) error {
	return &domain.ProtocolError{Kind: r.Kind, Category: r.Category, Message: r.Message, State: state}
}
