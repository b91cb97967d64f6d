package models

import "time"

// Comment belongs to exactly one post's comment sub-collection.
type Comment struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	CreatedAt  time.Time `json:"created_at"`
}

func (c Comment) Pending() bool {
	return c.CreatedAt.IsZero()
}

type CreateCommentRequest struct {
	Text string `json:"text"`
}

func (r *CreateCommentRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Text == "" {
		errors["text"] = "Comment text is required"
	}

	return errors
}

func CommentFromFields(id string, fields map[string]any) Comment {
	return Comment{
		ID:         id,
		Text:       stringField(fields, "text"),
		AuthorID:   stringField(fields, "authorId"),
		AuthorName: stringField(fields, "authorName"),
		CreatedAt:  timeField(fields, "createdAt"),
	}
}
