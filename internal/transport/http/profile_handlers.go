package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pairchat/internal/imaging"
	"github.com/vovakirdan/pairchat/internal/service/profile"
	"github.com/vovakirdan/pairchat/internal/store"
)

const (
	searchMinQueryLen = 3
	searchLimit       = 20
	multipartMemory   = 8 << 20
)

// ProfileHandlers provides HTTP handlers for users and profiles.
type ProfileHandlers struct {
	profiles       *profile.Service
	users          store.UserStore
	maxUploadBytes int64
	log            *zerolog.Logger
}

// NewProfileHandlers creates a new profile handlers instance.
func NewProfileHandlers(svc *profile.Service, users store.UserStore, maxUploadBytes int64, logger *zerolog.Logger) *ProfileHandlers {
	return &ProfileHandlers{
		profiles:       svc,
		users:          users,
		maxUploadBytes: maxUploadBytes,
		log:            logger,
	}
}

// ProfileResponse represents a profile in API responses.
type ProfileResponse struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
	PhotoData   string `json:"photo_data,omitempty"`
	UpdatedAt   string `json:"updated_at"`
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PhotoData   string `json:"photo_data,omitempty"`
}

// MeResponse describes the signed-in user.
type MeResponse struct {
	ID       int64           `json:"id"`
	Email    string          `json:"email"`
	Username string          `json:"username"`
	Profile  ProfileResponse `json:"profile"`
}

// UpdateProfileRequest is the JSON form of a profile edit.
type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
	ClearPhoto  bool    `json:"clear_photo"`
}

func profileToResponse(p *store.Profile, username string) ProfileResponse {
	return ProfileResponse{
		UserID:      p.UserID,
		Username:    username,
		DisplayName: p.DisplayName,
		Bio:         p.Bio,
		PhotoData:   p.PhotoData,
		UpdatedAt:   p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Me returns the current user with their profile.
// GET /api/me
func (h *ProfileHandlers) Me(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	user, err := h.users.GetUserByID(ctx, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to load user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	p, err := h.profiles.Get(ctx, uid)
	if err != nil {
		h.writeProfileError(c, err, uid)
		return
	}

	c.JSON(http.StatusOK, MeResponse{
		ID:       user.ID,
		Email:    user.Email,
		Username: user.Username,
		Profile:  profileToResponse(p, user.Username),
	})
}

// GetOwn returns the caller's profile.
// GET /api/profile
func (h *ProfileHandlers) GetOwn(c *gin.Context) {
	uid, username, ok := currentUser(c)
	if !ok {
		return
	}
	p, err := h.profiles.Get(c.Request.Context(), uid)
	if err != nil {
		h.writeProfileError(c, err, uid)
		return
	}
	c.JSON(http.StatusOK, profileToResponse(p, username))
}

// GetUserProfile returns another user's profile.
// GET /api/users/:id/profile
func (h *ProfileHandlers) GetUserProfile(c *gin.Context) {
	if _, _, ok := currentUser(c); !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	}

	ctx := c.Request.Context()
	user, err := h.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Int64("user_id", id).Msg("failed to load user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	p, err := h.profiles.Get(ctx, id)
	if err != nil {
		h.writeProfileError(c, err, id)
		return
	}
	c.JSON(http.StatusOK, profileToResponse(p, user.Username))
}

// UpdateOwn edits the caller's profile. Accepts multipart/form-data with the
// fields display_name, bio, photo and clear_photo, or the same fields as JSON (no photo).
// PUT /api/profile
func (h *ProfileHandlers) UpdateOwn(c *gin.Context) {
	uid, username, ok := currentUser(c)
	if !ok {
		return
	}

	var in profile.UpdateInput
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var req UpdateProfileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
		in = profile.UpdateInput{DisplayName: req.DisplayName, Bio: req.Bio, ClearPhoto: req.ClearPhoto}
	} else {
		// Room for the other form fields on top of the photo itself.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+64<<10)

		var err error
		in, err = h.readProfileForm(c)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) || errors.Is(err, profile.ErrPhotoTooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: profile.ErrPhotoTooLarge.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid form data"})
			return
		}
	}

	p, err := h.profiles.Update(c.Request.Context(), uid, in)
	if err != nil {
		h.writeProfileError(c, err, uid)
		return
	}
	c.JSON(http.StatusOK, profileToResponse(p, username))
}

func (h *ProfileHandlers) readProfileForm(c *gin.Context) (profile.UpdateInput, error) {
	var in profile.UpdateInput
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return in, err
	}
	if v, ok := c.GetPostForm("display_name"); ok {
		in.DisplayName = &v
	}
	if v, ok := c.GetPostForm("bio"); ok {
		in.Bio = &v
	}
	if v, ok := c.GetPostForm("clear_photo"); ok {
		in.ClearPhoto, _ = strconv.ParseBool(v)
	}

	fh, err := c.FormFile("photo")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return in, nil
		}
		return in, err
	}
	if fh.Size > h.maxUploadBytes {
		return in, profile.ErrPhotoTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return in, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		return in, err
	}
	in.Photo = data
	return in, nil
}

func (h *ProfileHandlers) writeProfileError(c *gin.Context, err error, userID int64) {
	switch {
	case errors.Is(err, profile.ErrProfileNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "profile not found"})
	case errors.Is(err, profile.ErrInvalidDisplayName), errors.Is(err, profile.ErrBioTooLong):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, profile.ErrPhotoTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: err.Error()})
	case errors.Is(err, imaging.ErrUnsupportedImage):
		c.JSON(http.StatusUnsupportedMediaType, ErrorResponse{Error: "photo must be a JPEG, PNG or GIF image"})
	default:
		h.log.Error().Err(err).Int64("user_id", userID).Msg("profile operation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// SearchUsers handles searching for users by username.
// GET /api/users/search?q=query
func (h *ProfileHandlers) SearchUsers(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		return
	}

	trimmed := strings.TrimSpace(c.Query("q"))
	if len(trimmed) < searchMinQueryLen {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "search query must be at least 3 characters"})
		return
	}

	ctx := c.Request.Context()
	// One extra row so excluding the caller still fills a page.
	users, err := h.users.SearchUsers(ctx, trimmed, searchLimit+1)
	if err != nil {
		h.log.Error().Err(err).Str("query", trimmed).Msg("failed to search users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]UserResponse, 0, len(users))
	for _, u := range users {
		if u.ID == uid || len(response) == searchLimit {
			continue
		}
		entry := UserResponse{ID: u.ID, Username: u.Username, DisplayName: u.Username}
		if p, err := h.profiles.Get(ctx, u.ID); err == nil {
			entry.DisplayName = p.DisplayName
			entry.PhotoData = p.PhotoData
		}
		response = append(response, entry)
	}

	c.JSON(http.StatusOK, response)
}
