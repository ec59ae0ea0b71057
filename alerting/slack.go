// Package alerting tells the operations channel when a location alert fires.
package alerting

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"go-redzone/dispatch"
	"go-redzone/types"
)

// Slack posts dispatch reports to one channel.
type Slack struct {
	api     *slack.Client
	channel string
}

var _ dispatch.OpsNotifier = (*Slack)(nil)

func NewSlack(api *slack.Client, channel string) *Slack {
	return &Slack{api: api, channel: channel}
}

func (s *Slack) NotifyDispatch(ctx context.Context, report dispatch.Report) error {
	text := headline(report)
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, text, false, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, details(report), false, false), nil, nil),
	}
	if report.Summary != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "*Summary*\n"+report.Summary, false, false), nil, nil))
	}
	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, "dispatch `"+report.DispatchID+"`", false, false)))

	_, _, err := s.api.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}

func headline(r dispatch.Report) string {
	return fmt.Sprintf("Red zone: %s in %s", r.Aggregate.DisasterType, r.Aggregate.Location)
}

func details(r dispatch.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Score* %.2f over %d reports\n", r.Aggregate.AggregateScore, r.Aggregate.TweetCount)
	if r.Err != nil {
		fmt.Fprintf(&b, "*Dispatch failed:* %v\n", r.Err)
		return b.String()
	}
	if r.Result.Status == dispatch.StatusNoUsers {
		b.WriteString("No registered residents at this address.\n")
		return b.String()
	}

	counts := make(map[types.OutcomeStatus]int)
	sms := 0
	for _, u := range r.Result.CalledUsers {
		counts[u.Result.Status]++
		sms += u.Result.SMSSent
	}
	fmt.Fprintf(&b, "*Called* %d residents: %d reached, %d failed, %d timed out", r.Result.Count,
		counts[types.OutcomeSuccess]+counts[types.OutcomeSimulated], counts[types.OutcomeFailed],
		counts[types.OutcomeTimeout]+counts[types.OutcomeNoTranscript])
	fmt.Fprintf(&b, "\n*SMS sent* %d\n", sms)
	return b.String()
}
