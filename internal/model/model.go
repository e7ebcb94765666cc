// Package model defines the support entities held in the cache.
//
// Entities are values: once a snapshot containing them is published they
// are never modified. Attributes holds the remaining fields of the remote
// record as decoded JSON.
package model

import "time"

// Keyed is implemented by every cached entity.
type Keyed interface {
	Key() string
}

// Admin is a teammate on the support platform.
type Admin struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Email      string         `json:"email"`
	Away       bool           `json:"away"`
	Attributes map[string]any `json:"attributes,omitempty"`
	SeenAt     time.Time      `json:"seen_at"`
}

func (a Admin) Key() string { return a.ID }

// Contact is a user or lead.
type Contact struct {
	ID         string         `json:"id"`
	ExternalID string         `json:"external_id,omitempty"`
	Role       string         `json:"role"`
	Email      string         `json:"email"`
	Name       string         `json:"name"`
	Phone      string         `json:"phone,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Attributes map[string]any `json:"attributes,omitempty"`
	SeenAt     time.Time      `json:"seen_at"`
}

func (c Contact) Key() string { return c.ID }

// Company groups contacts.
type Company struct {
	ID         string         `json:"id"`
	CompanyID  string         `json:"company_id,omitempty"`
	Name       string         `json:"name"`
	UserCount  int            `json:"user_count"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Attributes map[string]any `json:"attributes,omitempty"`
	SeenAt     time.Time      `json:"seen_at"`
}

func (c Company) Key() string { return c.ID }

// Conversation is the summary of a conversation as returned by the list
// endpoint; the message thread lives in Thread.
type Conversation struct {
	ID         string         `json:"id"`
	Title      string         `json:"title,omitempty"`
	State      string         `json:"state"`
	Open       bool           `json:"open"`
	AssigneeID string         `json:"assignee_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Attributes map[string]any `json:"attributes,omitempty"`
	SeenAt     time.Time      `json:"seen_at"`
}

func (c Conversation) Key() string { return c.ID }

// Author identifies who wrote a message part.
type Author struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Part is one message in a conversation thread.
type Part struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Author    Author    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Thread is the full message history of one conversation. A thread is
// owned by its conversation and replaced wholesale on every hydration.
type Thread struct {
	ConversationID string    `json:"conversation_id"`
	Parts          []Part    `json:"parts"`
	HydratedAt     time.Time `json:"hydrated_at"`
}

func (t Thread) Key() string { return t.ConversationID }
