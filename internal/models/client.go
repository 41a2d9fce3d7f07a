package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// MessageRole identifies who authored a session message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Client is the root of a workspace tree: one Scenergy customer
// workspace holding the products being visualized.
type Client struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Products  []*Product `json:"products"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Product groups the visualization sessions for one catalog item.
type Product struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	SKU       string     `json:"sku,omitempty"`
	Sessions  []*Session `json:"sessions"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Session is a generation thread: an ordered exchange of prompts and
// assistant results for one product.
type Session struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	ScenePreset string     `json:"scene_preset,omitempty"`
	Messages    []*Message `json:"messages"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Message is one entry in a session. Assistant messages track the
// generation job that produces their images.
type Message struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content,omitempty"`
	Status    JobState    `json:"status,omitempty"`
	JobID     string      `json:"job_id,omitempty"`
	Progress  int         `json:"progress,omitempty"`
	ImageIDs  []string    `json:"image_ids,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NormalizeText canonicalizes user-entered text to NFC so persisted
// content does not depend on the input method's composition form.
func NormalizeText(s string) string {
	return norm.NFC.String(s)
}

// NewSession creates an empty session with a fresh ID.
func NewSession(title, scenePreset string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          uuid.NewString(),
		Title:       NormalizeText(title),
		ScenePreset: scenePreset,
		Messages:    []*Message{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewUserMessage creates a prompt message.
func NewUserMessage(content string) *Message {
	now := time.Now().UTC()
	return &Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   NormalizeText(content),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewAssistantMessage creates a placeholder for a generation job's
// result. It starts pending and is patched as the job progresses.
func NewAssistantMessage(jobID string) *Message {
	now := time.Now().UTC()
	return &Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Status:    JobPending,
		JobID:     jobID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Product finds a product by ID.
func (c *Client) Product(id string) (*Product, bool) {
	for _, p := range c.Products {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Session finds a session by ID.
func (p *Product) Session(id string) (*Session, bool) {
	for _, s := range p.Sessions {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Message finds a message by ID.
func (s *Session) Message(id string) (*Message, bool) {
	for _, m := range s.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// CloneWithProduct returns a copy of the tree with fn applied to a copy
// of the named product. Only the root, the products slice, the target
// product, and its sessions slice are duplicated; untouched branches
// are shared with the original. UpdatedAt is bumped along the path.
func (c *Client) CloneWithProduct(productID string, fn func(*Product)) (*Client, error) {
	idx := -1
	for i, p := range c.Products {
		if p.ID == productID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, &NotFoundError{Kind: "product", ID: productID}
	}

	now := time.Now().UTC()

	root := *c
	root.Products = make([]*Product, len(c.Products))
	copy(root.Products, c.Products)

	prod := *c.Products[idx]
	prod.Sessions = make([]*Session, len(c.Products[idx].Sessions))
	copy(prod.Sessions, c.Products[idx].Sessions)

	fn(&prod)

	prod.UpdatedAt = now
	root.Products[idx] = &prod
	root.UpdatedAt = now

	return &root, nil
}

// CloneWithSession returns a copy of the tree with fn applied to a copy
// of the named session, following the same copy-along-the-path rule as
// CloneWithProduct.
func (c *Client) CloneWithSession(productID, sessionID string, fn func(*Session)) (*Client, error) {
	var missing error
	root, err := c.CloneWithProduct(productID, func(p *Product) {
		idx := -1
		for i, s := range p.Sessions {
			if s.ID == sessionID {
				idx = i
				break
			}
		}
		if idx < 0 {
			missing = &NotFoundError{Kind: "session", ID: sessionID}
			return
		}

		sess := *p.Sessions[idx]
		sess.Messages = make([]*Message, len(p.Sessions[idx].Messages))
		copy(sess.Messages, p.Sessions[idx].Messages)

		fn(&sess)

		sess.UpdatedAt = time.Now().UTC()
		p.Sessions[idx] = &sess
	})
	if err != nil {
		return nil, err
	}
	if missing != nil {
		return nil, missing
	}
	return root, nil
}

// Validate validates the client tree root.
func (c *Client) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("client ID is required")
	}

	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("client name is required")
	}

	seen := make(map[string]struct{}, len(c.Products))
	for _, p := range c.Products {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("product ID is required")
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate product ID: %s", p.ID)
		}
		seen[p.ID] = struct{}{}
	}

	return nil
}

// Validate validates a session.
func (s *Session) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("session ID is required")
	}

	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("session title is required")
	}

	for _, m := range s.Messages {
		switch m.Role {
		case RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("unknown message role: %s", m.Role)
		}
	}

	return nil
}
