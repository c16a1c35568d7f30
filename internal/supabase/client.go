package supabase

import (
	"context"
	"fmt"

	"flower-classifier-backend/internal/config"

	"github.com/supabase-community/gotrue-go/types"
	"github.com/supabase-community/supabase-go"
)

type Client struct {
	Supabase *supabase.Client
	Config   *config.Config
}

func NewClient(cfg *config.Config) (*Client, error) {
	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabasePublishableKey, nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		Supabase: client,
		Config:   cfg,
	}, nil
}

// ResolveUserID asks Supabase Auth who owns the access token.
func (c *Client) ResolveUserID(ctx context.Context, token string) (string, error) {
	user, err := runWithContext(ctx, func() (*types.UserResponse, error) {
		return c.Supabase.Auth.WithToken(token).GetUser()
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve user: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("failed to resolve user: empty response")
	}
	return user.ID.String(), nil
}
