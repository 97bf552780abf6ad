package service

import (
	"fmt"
	"strings"

	"github.com/xiaot623/gochat/internal/domain"
)

const (
	historyPreamble = "Previous conversation history for context:\n"
	questionLead    = "Now please answer the following new question:"
)

// Exchange is one user message and the assistant reply that answered it.
type Exchange struct {
	User      string
	Assistant string
}

// Exchanges pairs consecutive user and assistant turns. Unanswered user turns and
// system turns are skipped.
func Exchanges(turns []domain.Turn) []Exchange {
	var out []Exchange
	for i := 0; i < len(turns); i++ {
		if turns[i].Role != domain.RoleUser {
			continue
		}
		if i+1 < len(turns) && turns[i+1].Role == domain.RoleAssistant {
			out = append(out, Exchange{User: turns[i].Content, Assistant: turns[i+1].Content})
			i++
		}
	}
	return out
}

// BuildPrompt renders the prompt for message with up to maxExchanges prior exchanges
// of context. Oldest exchanges are dropped first until the prompt fits in maxChars.
// Without usable history the bare message is sent.
func BuildPrompt(recent []domain.Turn, message string, maxExchanges, maxChars int) string {
	history := Exchanges(recent)
	if maxExchanges <= 0 {
		history = nil
	} else if len(history) > maxExchanges {
		history = history[len(history)-maxExchanges:]
	}

	for len(history) > 0 {
		prompt := renderPrompt(history, message)
		if maxChars <= 0 || len(prompt) <= maxChars {
			return prompt
		}
		history = history[1:]
	}
	return message
}

func renderPrompt(history []Exchange, message string) string {
	var b strings.Builder
	b.WriteString(historyPreamble)
	for i, ex := range history {
		fmt.Fprintf(&b, "\nConversation %d:\n", i+1)
		fmt.Fprintf(&b, "User: %s\n", ex.User)
		fmt.Fprintf(&b, "Assistant: %s\n", ex.Assistant)
	}
	b.WriteString("\n")
	b.WriteString(questionLead)
	fmt.Fprintf(&b, "\nUser: %s\nAssistant:", message)
	return b.String()
}
