package handlers

import (
	"net/http"
	"strconv"

	"github.com/isdelr/ender-blog-be/internal/auth"
	"github.com/isdelr/ender-blog-be/internal/models"
	"github.com/isdelr/ender-blog-be/internal/services"
	"github.com/rs/zerolog/log"
)

// CommentHandler handles HTTP requests related to comments.
type CommentHandler struct {
	service          services.CommentServiceProvider
	enforceOwnership bool
}

// NewCommentHandler creates a new CommentHandler.
func NewCommentHandler(service services.CommentServiceProvider, enforceOwnership bool) *CommentHandler {
	return &CommentHandler{service: service, enforceOwnership: enforceOwnership}
}

// CommentPayload is the writable part of a comment.
type CommentPayload struct {
	Content string `json:"content"`
	Post    int64  `json:"post"`
	Author  *int64 `json:"author"`
}

// CommentPatch is a partial comment update; nil fields are left unchanged.
type CommentPatch struct {
	Content *string `json:"content"`
	Post    *int64  `json:"post"`
	Author  *int64  `json:"author"`
}

// GetAll lists the comments of the post named by ?post_id. Without it the list is empty.
func (h *CommentHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	var postID *int64
	if raw := r.URL.Query().Get("post_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, map[string][]string{"post_id": {"A valid integer is required."}})
			return
		}
		postID = &id
	}

	comments, err := h.service.ListComments(r.Context(), postID)
	if err != nil {
		respondServiceError(w, err, "retrieve comments")
		return
	}
	respondJSON(w, http.StatusOK, comments)
}

// Get handles the request to get a single comment by its ID.
func (h *CommentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	comment, err := h.service.GetCommentByID(r.Context(), id)
	if err != nil {
		respondServiceError(w, err, "retrieve comment")
		return
	}
	respondJSON(w, http.StatusOK, comment)
}

// Create handles the request to add a comment to a post.
func (h *CommentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload CommentPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	principal := auth.FromContext(r.Context())

	comment, err := h.service.CreateComment(r.Context(), models.Comment{
		Content: payload.Content,
		Post:    payload.Post,
		Author:  resolveAuthor(principal, payload.Author, h.enforceOwnership),
	})
	if err != nil {
		respondServiceError(w, err, "create comment")
		return
	}

	log.Info().Int64("comment_id", comment.ID).Int64("post_id", comment.Post).Msg("Comment created")
	respondJSON(w, http.StatusCreated, comment)
}

// loadForWrite fetches comment id and checks the caller may change it. It writes the
// error response itself and reports false when the request must stop.
func (h *CommentHandler) loadForWrite(w http.ResponseWriter, r *http.Request, id int64) (models.Comment, bool) {
	principal := auth.FromContext(r.Context())
	existing, err := h.service.GetCommentByID(r.Context(), id)
	if err != nil {
		respondServiceError(w, err, "retrieve comment")
		return models.Comment{}, false
	}
	if !auth.CanModify(principal, existing.Author, h.enforceOwnership) {
		log.Warn().Int64("comment_id", id).Int64("user_id", principal.UserID).Msg("Refused comment update by non-author")
		respondDetail(w, http.StatusForbidden, detailForbidden)
		return models.Comment{}, false
	}
	return existing, true
}

// Update handles the request to replace an existing comment.
func (h *CommentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, ok := h.loadForWrite(w, r, id); !ok {
		return
	}

	var payload CommentPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	comment, err := h.service.UpdateComment(r.Context(), id, models.Comment{
		Content: payload.Content,
		Post:    payload.Post,
		Author:  resolveAuthor(auth.FromContext(r.Context()), payload.Author, h.enforceOwnership),
	})
	if err != nil {
		respondServiceError(w, err, "update comment")
		return
	}
	respondJSON(w, http.StatusOK, comment)
}

// Patch handles a partial update of a comment.
func (h *CommentHandler) Patch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	existing, ok := h.loadForWrite(w, r, id)
	if !ok {
		return
	}

	var payload CommentPatch
	if !decodeBody(w, r, &payload) {
		return
	}
	if payload.Content != nil {
		existing.Content = *payload.Content
	}
	if payload.Post != nil {
		existing.Post = *payload.Post
	}
	if payload.Author != nil && !h.enforceOwnership {
		existing.Author = *payload.Author
	}

	comment, err := h.service.UpdateComment(r.Context(), id, existing)
	if err != nil {
		respondServiceError(w, err, "update comment")
		return
	}
	respondJSON(w, http.StatusOK, comment)
}

// Delete handles the request to delete a comment.
func (h *CommentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	principal := auth.FromContext(r.Context())

	if h.enforceOwnership {
		existing, err := h.service.GetCommentByID(r.Context(), id)
		if err != nil {
			respondServiceError(w, err, "retrieve comment")
			return
		}
		if !auth.CanModify(principal, existing.Author, true) {
			respondDetail(w, http.StatusForbidden, detailForbidden)
			return
		}
	}

	if err := h.service.DeleteComment(r.Context(), id); err != nil {
		respondServiceError(w, err, "delete comment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
