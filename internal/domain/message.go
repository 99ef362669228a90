package domain

import (
	"time"

	"github.com/google/uuid"
)

type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
)

// Interactivity describes how the next user action is captured.
type Interactivity string

const (
	InteractiveNone      Interactivity = "none"
	InteractiveSelect    Interactivity = "select"
	InteractiveButtons   Interactivity = "buttons"
	InteractiveTextInput Interactivity = "text_input"
)

// Choice is one selectable option of an interactive message.
type Choice struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Message is immutable once appended to a transcript. An interactive message
// with choices is the only choice surface for the next user action.
type Message struct {
	ID          string        `json:"id"`
	Author      Author        `json:"author"`
	Text        string        `json:"text"`
	Timestamp   time.Time     `json:"timestamp"`
	Interactive Interactivity `json:"interactive"`
	Choices     []Choice      `json:"choices,omitempty"`
}

func NewUserMessage(text string) Message {
	return Message{
		ID:          uuid.NewString(),
		Author:      AuthorUser,
		Text:        text,
		Timestamp:   time.Now(),
		Interactive: InteractiveNone,
	}
}

func NewAssistantMessage(text string) Message {
	return Message{
		ID:          uuid.NewString(),
		Author:      AuthorAssistant,
		Text:        text,
		Timestamp:   time.Now(),
		Interactive: InteractiveNone,
	}
}

func NewPromptMessage(text string, kind Interactivity, choices []Choice) Message {
	return Message{
		ID:          uuid.NewString(),
		Author:      AuthorAssistant,
		Text:        text,
		Timestamp:   time.Now(),
		Interactive: kind,
		Choices:     choices,
	}
}
