package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/matheus3301/deskcache/internal/model"
	"go.uber.org/zap"
)

// Page is one page of a paginated collection. Next is empty once the
// collection is exhausted.
type Page[T any] struct {
	Items   []T
	Next    string
	Dropped int
	// Scroll marks Next as a scroll id. The scroll API may return the same
	// id for every page, so it is not a position and may repeat.
	Scroll bool
}

type listEnvelope struct {
	Data          []json.RawMessage `json:"data"`
	Admins        []json.RawMessage `json:"admins"`
	Conversations []json.RawMessage `json:"conversations"`
	ScrollParam   string            `json:"scroll_param"`
	Pages         *struct {
		Next *struct {
			StartingAfter string `json:"starting_after"`
		} `json:"next"`
	} `json:"pages"`
}

func (e listEnvelope) startingAfter() string {
	if e.Pages == nil || e.Pages.Next == nil {
		return ""
	}
	return e.Pages.Next.StartingAfter
}

func (c *Client) getEnvelope(ctx context.Context, op, path string, query url.Values) (listEnvelope, error) {
	resp, err := c.do(ctx, request{op: op, method: http.MethodGet, path: path, query: query})
	if err != nil {
		return listEnvelope{}, err
	}
	var env listEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return listEnvelope{}, &Error{Op: op, Kind: KindValidation, StatusCode: resp.StatusCode(), Err: err}
	}
	return env, nil
}

func (c *Client) cursorQuery(cursor string) url.Values {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(c.opts.PageSize))
	if cursor != "" {
		q.Set("starting_after", cursor)
	}
	return q
}

func (c *Client) logDropped(op string, dropped []error) {
	for _, err := range dropped {
		c.logger.Warn("dropping invalid record", zap.String("operation", op), zap.Error(err))
	}
}

// ListAdmins returns every admin in the workspace. The admins endpoint is
// not paginated.
func (c *Client) ListAdmins(ctx context.Context) (Page[model.Admin], error) {
	env, err := c.getEnvelope(ctx, "list_admins", "/admins", nil)
	if err != nil {
		return Page[model.Admin]{}, err
	}
	items, dropped := decodeAll(env.Admins, time.Now().UTC(), decodeAdmin)
	c.logDropped("list_admins", dropped)
	return Page[model.Admin]{Items: items, Dropped: len(dropped)}, nil
}

// ListContacts returns the page of contacts after cursor.
func (c *Client) ListContacts(ctx context.Context, cursor string) (Page[model.Contact], error) {
	env, err := c.getEnvelope(ctx, "list_contacts", "/contacts", c.cursorQuery(cursor))
	if err != nil {
		return Page[model.Contact]{}, err
	}
	items, dropped := decodeAll(env.Data, time.Now().UTC(), decodeContact)
	c.logDropped("list_contacts", dropped)
	return Page[model.Contact]{Items: items, Next: env.startingAfter(), Dropped: len(dropped)}, nil
}

// ListCompanies returns the page of companies for the scroll cursor. The
// scroll API signals exhaustion with an empty page.
func (c *Client) ListCompanies(ctx context.Context, cursor string) (Page[model.Company], error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("scroll_param", cursor)
	}
	env, err := c.getEnvelope(ctx, "list_companies", "/companies/scroll", q)
	if err != nil {
		return Page[model.Company]{}, err
	}
	items, dropped := decodeAll(env.Data, time.Now().UTC(), decodeCompany)
	c.logDropped("list_companies", dropped)

	next := ""
	if len(env.Data) > 0 {
		next = env.ScrollParam
	}
	return Page[model.Company]{Items: items, Next: next, Dropped: len(dropped), Scroll: true}, nil
}

// ListConversations returns the page of conversation summaries after cursor.
func (c *Client) ListConversations(ctx context.Context, cursor string) (Page[model.Conversation], error) {
	env, err := c.getEnvelope(ctx, "list_conversations", "/conversations", c.cursorQuery(cursor))
	if err != nil {
		return Page[model.Conversation]{}, err
	}
	items, dropped := decodeAll(env.Conversations, time.Now().UTC(), decodeConversation)
	c.logDropped("list_conversations", dropped)
	return Page[model.Conversation]{Items: items, Next: env.startingAfter(), Dropped: len(dropped)}, nil
}

// GetConversation fetches the full thread of one conversation.
func (c *Client) GetConversation(ctx context.Context, id string) (model.Thread, error) {
	const op = "get_conversation"
	q := url.Values{}
	q.Set("display_as", "plaintext")
	resp, err := c.do(ctx, request{op: op, method: http.MethodGet, path: "/conversations/" + url.PathEscape(id), query: q})
	if err != nil {
		return model.Thread{}, err
	}
	thread, err := decodeThread(resp.Body(), time.Now().UTC())
	if err != nil {
		return model.Thread{}, &Error{Op: op, Kind: KindValidation, StatusCode: resp.StatusCode(), Err: err}
	}
	if thread.ConversationID != id {
		return model.Thread{}, &Error{Op: op, Kind: KindValidation, StatusCode: resp.StatusCode(),
			Err: fmt.Errorf("asked for conversation %s, got %s", id, thread.ConversationID)}
	}
	return thread, nil
}

type searchFilter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type searchQuery struct {
	Operator string         `json:"operator,omitempty"`
	Value    []searchFilter `json:"value,omitempty"`
	searchFilter
}

// SearchContacts runs a live contact search on the platform: exact email
// and/or name containing name. The search endpoint is a POST but reads only.
func (c *Client) SearchContacts(ctx context.Context, email, name string) ([]model.Contact, error) {
	const op = "search_contacts"

	var filters []searchFilter
	if email != "" {
		filters = append(filters, searchFilter{Field: "email", Operator: "=", Value: email})
	}
	if name != "" {
		filters = append(filters, searchFilter{Field: "name", Operator: "~", Value: name})
	}
	if len(filters) == 0 {
		return nil, &Error{Op: op, Kind: KindValidation, Err: fmt.Errorf("email or name is required")}
	}

	var query any = filters[0]
	if len(filters) > 1 {
		query = searchQuery{Operator: "OR", Value: filters}
	}
	body := map[string]any{
		"query":      query,
		"pagination": map[string]int{"per_page": c.opts.PageSize},
	}

	resp, err := c.do(ctx, request{op: op, method: http.MethodPost, path: "/contacts/search", body: body})
	if err != nil {
		return nil, err
	}
	var env listEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, &Error{Op: op, Kind: KindValidation, StatusCode: resp.StatusCode(), Err: err}
	}
	items, dropped := decodeAll(env.Data, time.Now().UTC(), decodeContact)
	c.logDropped(op, dropped)
	return items, nil
}
