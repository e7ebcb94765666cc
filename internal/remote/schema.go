package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/deskcache/internal/model"
)

// Records from the API are loosely typed. Each one is decoded into an
// explicit schema and validated; invalid records never reach a snapshot.

var errMissingID = errors.New("missing id")

// flexID accepts ids encoded as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", b)
	}
	*f = flexID(n.String())
	return nil
}

func unixTime(secs int64) time.Time {
	if secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// attributes decodes raw into a map and removes the keys already captured
// by the typed schema.
func attributes(raw json.RawMessage, typed ...string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	for _, k := range typed {
		delete(m, k)
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func checkRecord(id flexID, gotType, wantType string) error {
	if id == "" {
		return errMissingID
	}
	if gotType != "" && gotType != wantType {
		return fmt.Errorf("record %s has type %q, want %q", id, gotType, wantType)
	}
	return nil
}

type adminSchema struct {
	Type  string `json:"type"`
	ID    flexID `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Away  bool   `json:"away_mode_enabled"`
}

func decodeAdmin(raw json.RawMessage, seen time.Time) (model.Admin, error) {
	var s adminSchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return model.Admin{}, err
	}
	if err := checkRecord(s.ID, s.Type, "admin"); err != nil {
		return model.Admin{}, err
	}
	return model.Admin{
		ID:         string(s.ID),
		Name:       s.Name,
		Email:      s.Email,
		Away:       s.Away,
		Attributes: attributes(raw, "type", "id", "name", "email", "away_mode_enabled"),
		SeenAt:     seen,
	}, nil
}

type contactSchema struct {
	Type       string `json:"type"`
	ID         flexID `json:"id"`
	ExternalID flexID `json:"external_id"`
	Role       string `json:"role"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	UpdatedAt  int64  `json:"updated_at"`
}

func decodeContact(raw json.RawMessage, seen time.Time) (model.Contact, error) {
	var s contactSchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return model.Contact{}, err
	}
	if err := checkRecord(s.ID, s.Type, "contact"); err != nil {
		return model.Contact{}, err
	}
	return model.Contact{
		ID:         string(s.ID),
		ExternalID: string(s.ExternalID),
		Role:       s.Role,
		Email:      s.Email,
		Name:       s.Name,
		Phone:      s.Phone,
		UpdatedAt:  unixTime(s.UpdatedAt),
		Attributes: attributes(raw, "type", "id", "external_id", "role", "email", "name", "phone", "updated_at"),
		SeenAt:     seen,
	}, nil
}

type companySchema struct {
	Type      string `json:"type"`
	ID        flexID `json:"id"`
	CompanyID flexID `json:"company_id"`
	Name      string `json:"name"`
	UserCount int    `json:"user_count"`
	UpdatedAt int64  `json:"updated_at"`
}

func decodeCompany(raw json.RawMessage, seen time.Time) (model.Company, error) {
	var s companySchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return model.Company{}, err
	}
	if err := checkRecord(s.ID, s.Type, "company"); err != nil {
		return model.Company{}, err
	}
	return model.Company{
		ID:         string(s.ID),
		CompanyID:  string(s.CompanyID),
		Name:       s.Name,
		UserCount:  s.UserCount,
		UpdatedAt:  unixTime(s.UpdatedAt),
		Attributes: attributes(raw, "type", "id", "company_id", "name", "user_count", "updated_at"),
		SeenAt:     seen,
	}, nil
}

type conversationSchema struct {
	Type       string `json:"type"`
	ID         flexID `json:"id"`
	Title      string `json:"title"`
	State      string `json:"state"`
	Open       bool   `json:"open"`
	AssigneeID flexID `json:"admin_assignee_id"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

func decodeConversation(raw json.RawMessage, seen time.Time) (model.Conversation, error) {
	var s conversationSchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return model.Conversation{}, err
	}
	if err := checkRecord(s.ID, s.Type, "conversation"); err != nil {
		return model.Conversation{}, err
	}
	return model.Conversation{
		ID:         string(s.ID),
		Title:      s.Title,
		State:      s.State,
		Open:       s.Open,
		AssigneeID: string(s.AssigneeID),
		CreatedAt:  unixTime(s.CreatedAt),
		UpdatedAt:  unixTime(s.UpdatedAt),
		Attributes: attributes(raw, "type", "id", "title", "state", "open", "admin_assignee_id",
			"created_at", "updated_at", "conversation_parts", "source"),
		SeenAt: seen,
	}, nil
}

type authorSchema struct {
	ID    flexID `json:"id"`
	Type  string `json:"type"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (a authorSchema) model() model.Author {
	return model.Author{ID: string(a.ID), Type: a.Type, Name: a.Name, Email: a.Email}
}

type partSchema struct {
	ID        flexID       `json:"id"`
	PartType  string       `json:"part_type"`
	Body      string       `json:"body"`
	CreatedAt int64        `json:"created_at"`
	Author    authorSchema `json:"author"`
}

type threadSchema struct {
	Type      string `json:"type"`
	ID        flexID `json:"id"`
	CreatedAt int64  `json:"created_at"`
	Source    *struct {
		ID     flexID       `json:"id"`
		Type   string       `json:"type"`
		Body   string       `json:"body"`
		Author authorSchema `json:"author"`
	} `json:"source"`
	Parts struct {
		Parts []partSchema `json:"conversation_parts"`
	} `json:"conversation_parts"`
}

// decodeThread builds the ordered thread of a conversation: the source
// message first, then every part in the order the API returned them.
func decodeThread(raw json.RawMessage, hydrated time.Time) (model.Thread, error) {
	var s threadSchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return model.Thread{}, err
	}
	if err := checkRecord(s.ID, s.Type, "conversation"); err != nil {
		return model.Thread{}, err
	}

	parts := make([]model.Part, 0, len(s.Parts.Parts)+1)
	if s.Source != nil && (s.Source.ID != "" || s.Source.Body != "") {
		parts = append(parts, model.Part{
			ID:        string(s.Source.ID),
			Type:      "source",
			Author:    s.Source.Author.model(),
			Body:      s.Source.Body,
			CreatedAt: unixTime(s.CreatedAt),
		})
	}
	for i, p := range s.Parts.Parts {
		if p.ID == "" {
			return model.Thread{}, fmt.Errorf("conversation %s part %d: %w", s.ID, i, errMissingID)
		}
		parts = append(parts, model.Part{
			ID:        string(p.ID),
			Type:      p.PartType,
			Author:    p.Author.model(),
			Body:      p.Body,
			CreatedAt: unixTime(p.CreatedAt),
		})
	}

	return model.Thread{
		ConversationID: string(s.ID),
		Parts:          parts,
		HydratedAt:     hydrated,
	}, nil
}

// decodeAll decodes every record, dropping the ones that fail validation.
// It returns the kept records in input order and one error per dropped record.
func decodeAll[T any](raws []json.RawMessage, seen time.Time, decode func(json.RawMessage, time.Time) (T, error)) ([]T, []error) {
	items := make([]T, 0, len(raws))
	var dropped []error
	for i, raw := range raws {
		item, err := decode(raw, seen)
		if err != nil {
			dropped = append(dropped, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		items = append(items, item)
	}
	return items, dropped
}
