package model

import (
	"encoding/json"
	"time"
)

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// UserPatch carries a partial profile update. Nil fields are left untouched.
type UserPatch struct {
	Username *string
	Email    *string
}

type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	HomePage string `json:"home_page,omitempty"`
}

type Attachment struct {
	ID        int64  `json:"id"`
	File      string `json:"file"`
	MediaType string `json:"media_type"`
}

type Comment struct {
	ID          int64        `json:"id"`
	User        User         `json:"user"`
	Text        string       `json:"text"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	ParentID    *int64       `json:"reply"`
	Children    []*Comment   `json:"replies,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Clone returns a deep copy of c and its whole reply subtree.
func (c *Comment) Clone() *Comment {
	if c == nil {
		return nil
	}
	out := *c
	if c.ParentID != nil {
		parent := *c.ParentID
		out.ParentID = &parent
	}
	if c.Attachments != nil {
		out.Attachments = append([]Attachment(nil), c.Attachments...)
	}
	if c.Children != nil {
		out.Children = make([]*Comment, len(c.Children))
		for i, child := range c.Children {
			out.Children[i] = child.Clone()
		}
	}
	return &out
}

type CommentPage struct {
	Count    int        `json:"count"`
	Next     string     `json:"next"`
	Previous string     `json:"previous"`
	Results  []*Comment `json:"results"`
}

type CommentListOpts struct {
	Page     int
	Ordering string
	Search   string
}

const EventNewReply = "new_reply"

// Envelope is a message pushed by the server on a thread channel.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}
