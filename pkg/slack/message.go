package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var statusEmoji = map[string]string{
	"completed": ":white_check_mark:",
	"failed":    ":x:",
	"cancelled": ":no_entry_sign:",
}

var statusLabel = map[string]string{
	"completed": "Execution Completed",
	"failed":    "Execution Failed",
	"cancelled": "Execution Cancelled",
}

func executionURL(executionID, dashboardURL string) string {
	return fmt.Sprintf("%s/executions/%s", dashboardURL, executionID)
}

func markdownSection(text string) goslack.Block {
	return goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
		nil, nil,
	)
}

// BuildStartedMessage creates Block Kit blocks for an execution start
// notification.
func BuildStartedMessage(in ExecutionStartedInput, dashboardURL string) []goslack.Block {
	text := fmt.Sprintf(":arrows_counterclockwise: *Runbook started*: %s (`%s`, %s mode)",
		in.RunbookName, in.RunbookID, in.Mode)
	if dashboardURL != "" {
		text += fmt.Sprintf("\n<%s|View execution>", executionURL(in.ExecutionID, dashboardURL))
	}
	return []goslack.Block{markdownSection(text)}
}

// BuildApprovalMessage creates Block Kit blocks for a pending approval gate.
func BuildApprovalMessage(in ApprovalRequestedInput, dashboardURL string) []goslack.Block {
	text := fmt.Sprintf(
		":raised_hand: *Approval required* for step `%s` (action `%s`)\nRequest `%s`, expires %s.",
		in.StepID, in.Action, in.RequestID, in.ExpiresAt)
	if dashboardURL != "" {
		text += fmt.Sprintf("\n<%s|Review in dashboard>", executionURL(in.ExecutionID, dashboardURL))
	}
	return []goslack.Block{markdownSection(text)}
}

// BuildTerminalMessage creates Block Kit blocks for a terminal execution
// notification.
func BuildTerminalMessage(in ExecutionFinishedInput, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[in.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[in.Status]
	if label == "" {
		label = "Execution " + in.Status
	}

	text := fmt.Sprintf("%s *%s*: %s", emoji, label, in.RunbookName)
	if in.ErrorMessage != "" {
		text += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(in.ErrorMessage))
	}

	blocks := []goslack.Block{markdownSection(text)}
	if dashboardURL != "" {
		url := executionURL(in.ExecutionID, dashboardURL)
		btn := goslack.NewButtonBlockElement("", "",
			goslack.NewTextBlockObject(goslack.PlainTextType, "View Details", false, false))
		btn.URL = url
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}
	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
