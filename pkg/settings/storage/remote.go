package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"workbench/pkg/request"
	"workbench/pkg/settings/tree"
)

// Update is the body a Remote storage sends to its host.
type Update struct {
	Preferences map[string]any `json:"preferences"`
	Deletes     []tree.Path    `json:"deletes,omitempty"`
}

// Remote keeps settings on a storage host reached over HTTP. The host
// applies deletes before merging preferences.
type Remote struct {
	*Base
	client  *request.Client
	baseURL string
}

// NewRemote creates a remote storage talking to the storage endpoint at
// baseURL (for example http://host:1920/api/storage).
func NewRemote(name, baseURL string, client *request.Client) *Remote {
	if client == nil {
		client = request.New()
	}
	return &Remote{
		Base:    NewBase(name, TypeRemote, true),
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// URL returns the storage endpoint.
func (r *Remote) URL() string { return r.baseURL }

func (r *Remote) Init(ctx context.Context) error {
	if r.baseURL == "" {
		return fmt.Errorf("remote storage %s: no url configured", r.Name())
	}
	if _, err := url.ParseRequestURI(r.baseURL); err != nil {
		return fmt.Errorf("remote storage %s: %w", r.Name(), err)
	}
	_, err := r.GetAll(ctx)
	return err
}

func (r *Remote) GetAll(ctx context.Context) (Payload, error) {
	body, err := r.client.Get(ctx, r.baseURL)
	if err != nil {
		return Payload{}, fmt.Errorf("fetch remote settings: %w", err)
	}
	var p Payload
	if len(body) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, fmt.Errorf("decode remote settings: %w", err)
	}
	return p, nil
}

func (r *Remote) Get(ctx context.Context, key string) (any, bool, error) {
	p, err := r.GetAll(ctx)
	if err != nil {
		return nil, false, err
	}
	v, ok := p.Preference[key]
	return v, ok, nil
}

func (r *Remote) Set(ctx context.Context, key string, value any, replace bool) error {
	m, ok := tree.Normalize(value).(map[string]any)
	if !ok {
		return ErrInvalidValue
	}
	var deletes []tree.Path
	if replace {
		deletes = []tree.Path{{key}}
	}
	return r.SetSettings(ctx, map[string]any{key: m}, deletes)
}

func (r *Remote) Remove(ctx context.Context, key string) error {
	_, err := r.client.Delete(ctx, r.baseURL+"/"+url.PathEscape(key))
	if request.IsNotFound(err) {
		return nil
	}
	return err
}

func (r *Remote) Clear(ctx context.Context) error {
	_, err := r.client.Delete(ctx, r.baseURL)
	return err
}

func (r *Remote) SetSettings(ctx context.Context, prefs map[string]any, deletes []tree.Path) error {
	if prefs == nil {
		prefs = map[string]any{}
	}
	body, err := json.Marshal(Update{Preferences: prefs, Deletes: deletes})
	if err != nil {
		return fmt.Errorf("encode remote update: %w", err)
	}
	if _, err := r.client.Put(ctx, r.baseURL, body); err != nil {
		return fmt.Errorf("push remote settings: %w", err)
	}
	return nil
}
