package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"sync"

	"health-companion/internal/apperr"
	"health-companion/internal/remote"
)

type Remote interface {
	Get(ctx context.Context, op, endpoint string, query url.Values, out any) error
	Post(ctx context.Context, op, endpoint string, body, out any) error
}

// Kind describes how one entity type maps onto the record service.
type Kind[T any] struct {
	Name         string
	Endpoint     string
	ListAction   string
	CreateAction string
	ResponseKey  string
	Required     func(T) []string
}

// Repository lists and creates entities of one kind for a user. The last
// good list per user is kept so a failed read never clears what the user saw.
type Repository[T any] struct {
	kind   Kind[T]
	remote Remote

	mu     sync.Mutex
	cached map[int64][]T
}

func NewRepository[T any](kind Kind[T], r Remote) *Repository[T] {
	return &Repository[T]{
		kind:   kind,
		remote: r,
		cached: map[int64][]T{},
	}
}

func (r *Repository[T]) Kind() Kind[T] {
	return r.kind
}

// List fetches every entity the user owns, in the order the remote returns
// them. On failure it returns the previous list alongside the error.
func (r *Repository[T]) List(ctx context.Context, userID int64) ([]T, error) {
	query := url.Values{"userId": {strconv.FormatInt(userID, 10)}}
	if r.kind.ListAction != "" {
		query.Set("action", r.kind.ListAction)
	}

	var resp map[string]json.RawMessage
	op := r.kind.Name + ".list"
	if err := r.remote.Get(ctx, op, r.kind.Endpoint, query, &resp); err != nil {
		log.Printf("%s: list for user %d failed, keeping cached list: %v", r.kind.Name, userID, err)
		return r.Cached(userID), err
	}

	items, err := r.decodeList(op, resp)
	if err != nil {
		log.Printf("%s: list for user %d rejected, keeping cached list: %v", r.kind.Name, userID, err)
		return r.Cached(userID), err
	}

	r.mu.Lock()
	r.cached[userID] = items
	r.mu.Unlock()
	return append([]T{}, items...), nil
}

func (r *Repository[T]) decodeList(op string, resp map[string]json.RawMessage) ([]T, error) {
	var env remote.Envelope
	if raw, ok := resp["success"]; ok {
		_ = json.Unmarshal(raw, &env.Success)
	}
	if !env.Success {
		if raw, ok := resp["message"]; ok {
			_ = json.Unmarshal(raw, &env.Message)
		}
		return nil, &apperr.TransportError{Op: op, Err: errors.New(env.Reason())}
	}

	items := []T{}
	raw, ok := resp[r.kind.ResponseKey]
	if !ok || string(raw) == "null" {
		return items, nil
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &apperr.TransportError{Op: op, Err: fmt.Errorf("decode %s: %w", r.kind.ResponseKey, err)}
	}
	return items, nil
}

// Create validates fields locally, then writes them. The created entity is
// observed by calling List again.
func (r *Repository[T]) Create(ctx context.Context, userID int64, fields T) error {
	if r.kind.Required != nil {
		if missing := r.kind.Required(fields); len(missing) > 0 {
			return apperr.Validation(r.kind.Name, missing...)
		}
	}

	body, err := r.createBody(userID, fields)
	if err != nil {
		return err
	}

	var env remote.Envelope
	op := r.kind.Name + ".create"
	if err := r.remote.Post(ctx, op, r.kind.Endpoint, body, &env); err != nil {
		return err
	}
	if !env.Success {
		return &apperr.TransportError{Op: op, Err: errors.New(env.Reason())}
	}
	return nil
}

// createBody flattens fields next to userId and the optional action.
func (r *Repository[T]) createBody(userID int64, fields T) (map[string]any, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.kind.Name, err)
	}
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.kind.Name, err)
	}
	delete(body, "id")
	body["userId"] = userID
	if r.kind.CreateAction != "" {
		body["action"] = r.kind.CreateAction
	}
	return body, nil
}

// Cached returns a copy of the last successfully listed entities.
func (r *Repository[T]) Cached(userID int64) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T{}, r.cached[userID]...)
}

// Reset forgets every cached list.
func (r *Repository[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = map[int64][]T{}
}
