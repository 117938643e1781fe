package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// SlackConfig holds configuration for Slack webhook notifications.
type SlackConfig struct {
	// WebhookURL is the Slack incoming webhook URL.
	WebhookURL string

	// Channel is the Slack channel to post to (optional, uses webhook default).
	Channel string

	// Events specifies which rotation events trigger notifications.
	// If empty, all events are sent.
	Events []string

	// Mentions specifies who to mention for specific events.
	Mentions *SlackMentions
}

// SlackMentions defines who to mention for specific event types.
type SlackMentions struct {
	// OnFailure lists Slack handles to mention when rotation fails.
	OnFailure []string

	// OnRollback lists Slack handles to mention when rollback occurs.
	OnRollback []string
}

// SlackProvider sends rotation and incident notifications to Slack via
// incoming webhooks, using Block Kit layout.
type SlackProvider struct {
	config SlackConfig
}

// NewSlackProvider creates a new Slack notification provider.
func NewSlackProvider(config SlackConfig) *SlackProvider {
	return &SlackProvider{config: config}
}

// Name returns the provider name.
func (p *SlackProvider) Name() string {
	return "slack"
}

// SupportsEvent returns true if this provider handles the given event type.
func (p *SlackProvider) SupportsEvent(eventType EventType) bool {
	// If no events are configured, support all
	if len(p.config.Events) == 0 {
		return true
	}

	eventStr := string(eventType)
	for _, e := range p.config.Events {
		if strings.EqualFold(e, eventStr) {
			return true
		}
	}
	return false
}

// Validate checks if the provider configuration is valid.
func (p *SlackProvider) Validate(ctx context.Context) error {
	if p.config.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}

	parsed, err := url.Parse(p.config.WebhookURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid webhook URL: %s", p.config.WebhookURL)
	}

	return nil
}

// Send sends a notification to Slack for the given event.
func (p *SlackProvider) Send(ctx context.Context, event Event) error {
	message := p.buildMessage(event)
	if err := slack.PostWebhookContext(ctx, p.config.WebhookURL, message); err != nil {
		return fmt.Errorf("failed to send Slack notification: %w", err)
	}
	return nil
}

// buildMessage creates a Block Kit formatted Slack webhook message.
func (p *SlackProvider) buildMessage(event Event) *slack.WebhookMessage {
	emoji := p.getEventEmoji(event.Type, event.Status)
	title := p.getEventTitle(event.Type, event.Status)

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, fmt.Sprintf("%s %s", emoji, title), true, false)),
		slack.NewSectionBlock(nil, []*slack.TextBlockObject{
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Tenant:*\n%s", event.TenantID), false, false),
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Key:*\n%s", event.KeyID), false, false),
		}, nil),
	}

	if event.Strategy != "" || event.Duration > 0 {
		var fields []*slack.TextBlockObject
		if event.Strategy != "" {
			fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Phase:*\n%s", event.Strategy), false, false))
		}
		if event.Duration > 0 {
			fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Duration:*\n%s", event.Duration.Round(time.Millisecond)), false, false))
		}
		if len(fields) > 0 {
			blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))
		}
	}

	if event.Error != nil {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf(":warning: *Error:*\n```%s```", event.Error.Error()), false, false),
			nil, nil,
		))
	}

	if mentions := p.getMentions(event); mentions != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Attention:* %s", mentions), false, false),
			nil, nil,
		))
	}

	blocks = append(blocks,
		slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("<!date^%d^{date_short_pretty} at {time}|%s>", event.Timestamp.Unix(), event.Timestamp.Format(time.RFC3339)), false, false)),
		slack.NewDividerBlock(),
	)

	message := &slack.WebhookMessage{
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
	if p.config.Channel != "" {
		message.Channel = p.config.Channel
	}
	return message
}

// getEventEmoji returns the appropriate emoji for the event type.
func (p *SlackProvider) getEventEmoji(eventType EventType, status RotationStatus) string {
	switch eventType {
	case EventTypeStarted:
		return ":arrows_counterclockwise:"
	case EventTypeCompleted:
		if status == StatusSuccess {
			return ":white_check_mark:"
		}
		return ":warning:"
	case EventTypeFailed:
		return ":x:"
	case EventTypeRollback:
		return ":rewind:"
	default:
		return ":bell:"
	}
}

// getEventTitle returns a human-readable title for the event.
func (p *SlackProvider) getEventTitle(eventType EventType, status RotationStatus) string {
	switch eventType {
	case EventTypeStarted:
		return "Rotation Started"
	case EventTypeCompleted:
		if status == StatusSuccess {
			return "Rotation Completed Successfully"
		}
		return "Rotation Completed with Warnings"
	case EventTypeFailed:
		return "Rotation Failed"
	case EventTypeRollback:
		return "Rotation Rolled Back"
	default:
		return "Rotation Event"
	}
}

// getMentions returns a string of Slack mentions for the event.
func (p *SlackProvider) getMentions(event Event) string {
	if p.config.Mentions == nil {
		return ""
	}

	var mentions []string

	switch event.Type {
	case EventTypeFailed:
		mentions = p.config.Mentions.OnFailure
	case EventTypeRollback:
		mentions = p.config.Mentions.OnRollback
	}

	if len(mentions) == 0 {
		return ""
	}

	return strings.Join(mentions, " ")
}

// CreateSlackProvider creates a Slack provider from config notification settings.
func CreateSlackProvider(config *SlackNotificationConfig) (*SlackProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("slack config is nil")
	}

	slackConfig := SlackConfig{
		WebhookURL: config.WebhookURL,
		Channel:    config.Channel,
		Events:     config.Events,
	}

	if config.Mentions != nil {
		slackConfig.Mentions = &SlackMentions{
			OnFailure:  config.Mentions.OnFailure,
			OnRollback: config.Mentions.OnRollback,
		}
	}

	provider := NewSlackProvider(slackConfig)
	if err := provider.Validate(context.Background()); err != nil {
		return nil, err
	}

	return provider, nil
}

// SlackNotificationConfig mirrors the config package type for internal use.
type SlackNotificationConfig struct {
	WebhookURL string
	Channel    string
	Events     []string
	Mentions   *SlackMentionConfig
}

// SlackMentionConfig mirrors the config package mention type.
type SlackMentionConfig struct {
	OnFailure  []string
	OnRollback []string
}
