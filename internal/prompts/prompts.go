// Package prompts manages user-owned prompts exposed through MCP
// prompts/list and prompts/get, and the /v1/me/prompts management API.
package prompts

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/shibaleo/mcpist/internal/store"
	"github.com/shibaleo/mcpist/pkg/models"
)

// Service wraps store.PromptStore with id assignment on create.
type Service struct {
	db store.PromptStore
}

// New builds a prompts Service over db.
func New(db store.PromptStore) *Service {
	return &Service{db: db}
}

// List returns all prompts for a user (enabled and disabled).
func (s *Service) List(ctx context.Context, userID string) ([]models.Prompt, error) {
	return s.db.ListPrompts(ctx, userID)
}

// Enabled returns only the prompts enabled for this user, for prompts/list.
func (s *Service) Enabled(ctx context.Context, userID string) ([]models.Prompt, error) {
	all, err := s.db.ListPrompts(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Prompt, 0, len(all))
	for _, p := range all {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

// Get looks up one prompt by name, for prompts/get.
func (s *Service) Get(ctx context.Context, userID, name string) (*models.Prompt, error) {
	return s.db.GetPrompt(ctx, userID, name)
}

// Upsert creates or updates a prompt, assigning an id on first create.
func (s *Service) Upsert(ctx context.Context, p *models.Prompt) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return s.db.UpsertPrompt(ctx, p)
}

// Delete removes a user's prompt by name.
func (s *Service) Delete(ctx context.Context, userID, name string) error {
	return s.db.DeletePrompt(ctx, userID, name)
}

// RenderMessage builds the MCP prompts/get response: the prompt content
// as a single user message, with {{placeholders}} substituted by args.
func RenderMessage(p *models.Prompt, args map[string]string) map[string]interface{} {
	content := p.Content
	for k, v := range args {
		content = strings.ReplaceAll(content, "{{"+k+"}}", v)
	}
	return map[string]interface{}{
		"description": p.Description,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": map[string]interface{}{
					"type": "text",
					"text": content,
				},
			},
		},
	}
}
