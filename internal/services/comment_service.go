package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/isdelr/ender-blog-be/internal/database"
	"github.com/isdelr/ender-blog-be/internal/models"
)

// CommentServiceProvider defines the interface for comment services.
type CommentServiceProvider interface {
	ListComments(ctx context.Context, postID *int64) ([]models.Comment, error)
	GetCommentByID(ctx context.Context, id int64) (models.Comment, error)
	CreateComment(ctx context.Context, comment models.Comment) (models.Comment, error)
	UpdateComment(ctx context.Context, id int64, comment models.Comment) (models.Comment, error)
	DeleteComment(ctx context.Context, id int64) error
}

// CommentService provides business logic for comments on posts.
type CommentService struct {
	db *database.DB
}

// NewCommentService creates a new CommentService.
func NewCommentService(db *database.DB) *CommentService {
	return &CommentService{db: db}
}

const selectComment = "SELECT id, content, post_id, author_id, created_at FROM comments"

func scanComment(scanner interface{ Scan(...any) error }) (models.Comment, error) {
	var c models.Comment
	err := scanner.Scan(&c.ID, &c.Content, &c.Post, &c.Author, &c.CreatedAt)
	return c, err
}

// ListComments returns the comments on postID in creation order.
// Without a post filter nothing is listed.
func (s *CommentService) ListComments(ctx context.Context, postID *int64) ([]models.Comment, error) {
	comments := []models.Comment{}
	if postID == nil {
		return comments, nil
	}

	rows, err := s.db.QueryContext(ctx, selectComment+" WHERE post_id = ? ORDER BY id", *postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// GetCommentByID retrieves a single comment by its ID.
func (s *CommentService) GetCommentByID(ctx context.Context, id int64) (models.Comment, error) {
	c, err := scanComment(s.db.QueryRowContext(ctx, selectComment+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Comment{}, fmt.Errorf("comment %d: %w", id, ErrNotFound)
		}
		return models.Comment{}, err
	}
	return c, nil
}

func (s *CommentService) validateComment(ctx context.Context, comment *models.Comment) error {
	verr := &ValidationError{}

	comment.Content = strings.TrimSpace(comment.Content)
	if comment.Content == "" {
		verr.Add("content", msgBlank)
	}

	refs := []struct {
		field, table string
		id           int64
	}{
		{field: "post", table: "posts", id: comment.Post},
		{field: "author", table: "users", id: comment.Author},
	}
	for _, ref := range refs {
		if ref.id <= 0 {
			verr.Add(ref.field, msgRequired)
			continue
		}
		ok, err := rowExists(ctx, s.db, ref.table, ref.id)
		if err != nil {
			return err
		}
		if !ok {
			verr.Add(ref.field, invalidPK(ref.id))
		}
	}
	return verr.Err()
}

// danglingReference turns a foreign key failure that slipped past validation into a
// ValidationError naming whichever reference has gone missing.
func (s *CommentService) danglingReference(ctx context.Context, comment models.Comment) error {
	if err := s.validateComment(ctx, &comment); err != nil {
		return err
	}
	verr := &ValidationError{}
	verr.Add("non_field_errors", "Referenced post or author no longer exists.")
	return verr
}

// CreateComment validates and stores a comment; the referenced post must exist.
func (s *CommentService) CreateComment(ctx context.Context, comment models.Comment) (models.Comment, error) {
	if err := s.validateComment(ctx, &comment); err != nil {
		return models.Comment{}, err
	}

	comment.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO comments (content, post_id, author_id, created_at) VALUES (?, ?, ?, ?) RETURNING id",
		comment.Content, comment.Post, comment.Author, comment.CreatedAt,
	).Scan(&comment.ID)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return models.Comment{}, s.danglingReference(ctx, comment)
		}
		return models.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return comment, nil
}

// UpdateComment replaces the content, post and author of an existing comment.
func (s *CommentService) UpdateComment(ctx context.Context, id int64, comment models.Comment) (models.Comment, error) {
	existing, err := s.GetCommentByID(ctx, id)
	if err != nil {
		return models.Comment{}, err
	}
	if err := s.validateComment(ctx, &comment); err != nil {
		return models.Comment{}, err
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE comments SET content = ?, post_id = ?, author_id = ? WHERE id = ?",
		comment.Content, comment.Post, comment.Author, id,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return models.Comment{}, s.danglingReference(ctx, comment)
		}
		return models.Comment{}, fmt.Errorf("update comment %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.Comment{}, fmt.Errorf("comment %d: %w", id, ErrNotFound)
	}

	existing.Content = comment.Content
	existing.Post = comment.Post
	existing.Author = comment.Author
	return existing, nil
}

// DeleteComment removes a comment.
func (s *CommentService) DeleteComment(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM comments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete comment %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("comment %d: %w", id, ErrNotFound)
	}
	return nil
}
