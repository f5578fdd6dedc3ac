package auth

import (
	"context"
	"strings"

	cryptossh "golang.org/x/crypto/ssh"

	"github.com/webssh2/webssh2/internal/gwerrors"
)

// PromptRequest is a keyboard-interactive round forwarded to the browser.
type PromptRequest struct {
	Name        string
	Instruction string
	Prompts     []Prompt
}

// Prompt is one question in a keyboard-interactive round. Echo false means
// the client must mask the input.
type Prompt struct {
	Text string
	Echo bool
}

// ForwardFunc delivers a prompt round to the client and blocks for the
// answers. It must honor ctx cancellation.
type ForwardFunc func(ctx context.Context, req PromptRequest) ([]string, error)

// KeyboardInteractiveRelay bridges server keyboard-interactive rounds to
// the browser. When the server's first round is a single masked password
// prompt and a password is already cached, the relay answers it itself
// unless ForwardAll forces every round to the client.
type KeyboardInteractiveRelay struct {
	Password   string
	ForwardAll bool
	Forward    ForwardFunc

	rounds int
}

// Challenge returns the challenge callback for the SSH client config.
func (r *KeyboardInteractiveRelay) Challenge(ctx context.Context) cryptossh.KeyboardInteractiveChallenge {
	return func(name, instruction string, questions []string, echos []bool) ([]string, error) {
		r.rounds++
		if len(questions) == 0 {
			// Informational round; acknowledge with no answers.
			return nil, nil
		}

		if r.rounds == 1 && !r.ForwardAll && r.Password != "" && autoAnswerable(questions, echos) {
			return []string{r.Password}, nil
		}

		if r.Forward == nil {
			return nil, gwerrors.New(gwerrors.KindAuth, "prompt_unavailable",
				"keyboard-interactive prompt cannot be forwarded")
		}

		req := PromptRequest{Name: name, Instruction: instruction}
		for i, q := range questions {
			echo := false
			if i < len(echos) {
				echo = echos[i]
			}
			req.Prompts = append(req.Prompts, Prompt{Text: q, Echo: echo})
		}
		answers, err := r.Forward(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(answers) != len(questions) {
			return nil, gwerrors.New(gwerrors.KindAuth, "prompt_mismatch",
				"keyboard-interactive answer count does not match prompts")
		}
		return answers, nil
	}
}

// autoAnswerable reports whether the round is the standard single masked
// password question.
func autoAnswerable(questions []string, echos []bool) bool {
	if len(questions) != 1 {
		return false
	}
	if len(echos) > 0 && echos[0] {
		return false
	}
	return strings.Contains(strings.ToLower(questions[0]), "password")
}
