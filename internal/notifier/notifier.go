// Package notifier fans a markdown review result out to a side-channel
// webhook in one of four wire formats, per spec.md §4.14. Failures are
// logged, never re-raised, since notification is explicitly
// best-effort in the orchestration state machine.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agensys/mr-agent/internal/httpclient"
)

const (
	FormatWeCom   = "wecom"
	FormatSlack   = "slack"
	FormatDiscord = "discord"
	FormatGeneric = "generic"
)

// Notifier posts review outcomes to an external chat webhook.
type Notifier struct {
	client *httpclient.Client
	format string
	log    zerolog.Logger
}

// New creates a Notifier. format defaults to FormatGeneric for any
// unrecognised value.
func New(client *httpclient.Client, format string, log zerolog.Logger) *Notifier {
	switch format {
	case FormatWeCom, FormatSlack, FormatDiscord:
	default:
		format = FormatGeneric
	}
	return &Notifier{client: client, format: format, log: log}
}

// Publish posts content to pushURL in the configured wire format.
// Errors are logged and swallowed.
func (n *Notifier) Publish(ctx context.Context, pushURL, author, repo, sourceBranch, targetBranch, content string) {
	if pushURL == "" {
		return
	}
	body, err := n.buildPayload(author, repo, sourceBranch, targetBranch, content)
	if err != nil {
		n.log.Warn().Err(err).Str("format", n.format).Msg("notifier payload build failed")
		return
	}

	_, _, err = n.client.Request(ctx, pushURL, httpclient.Options{
		Method:  "POST",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
		Retries: 1,
	})
	if err != nil {
		n.log.Warn().Err(err).Str("format", n.format).Str("url", pushURL).Msg("notifier publish failed")
	}
}

func (n *Notifier) buildPayload(author, repo, sourceBranch, targetBranch, content string) ([]byte, error) {
	title := fmt.Sprintf("%s/%s: %s -> %s (by %s)", repo, sourceBranch, sourceBranch, targetBranch, author)

	switch n.format {
	case FormatWeCom:
		return json.Marshal(map[string]any{
			"msgtype": "markdown",
			"markdown": map[string]string{
				"content": "**" + title + "**\n\n" + content,
			},
		})
	case FormatSlack:
		return json.Marshal(map[string]any{
			"text": title + "\n" + content,
		})
	case FormatDiscord:
		return json.Marshal(map[string]any{
			"content": "**" + title + "**\n" + content,
		})
	default:
		return json.Marshal(map[string]any{
			"author":        author,
			"repo":          repo,
			"source_branch": sourceBranch,
			"target_branch": targetBranch,
			"content":       content,
		})
	}
}
