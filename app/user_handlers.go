package chatrooms

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/putto11262002/chatrooms/core"
	"github.com/putto11262002/chatrooms/pkg/router"
)

type UserHandler struct {
	store  core.UserStore
	issuer *core.TokenIssuer
	media  *core.MediaResolver
}

func NewUserHandler(store core.UserStore, issuer *core.TokenIssuer, media *core.MediaResolver) *UserHandler {
	return &UserHandler{store: store, issuer: issuer, media: media}
}

type UserView struct {
	ID              int64   `json:"id"`
	Username        string  `json:"username"`
	Email           string  `json:"email"`
	ProfileImageURL *string `json:"profile_image_url"`
	Bio             string  `json:"bio"`
}

func (h *UserHandler) view(u *core.User) UserView {
	return UserView{
		ID:              u.ID,
		Username:        u.Username,
		Email:           u.Email,
		ProfileImageURL: h.media.Resolve(u.ProfileImage),
		Bio:             u.Bio,
	}
}

type RegisterResponse struct {
	User   UserView `json:"user"`
	Access string   `json:"access"`
}

func (h *UserHandler) RegisterUserHandler(w http.ResponseWriter, r *http.Request) error {
	var input core.UserCreateInput
	if err := decodeAndValidate(r, &input); err != nil {
		return err
	}

	user, err := h.store.CreateUser(r.Context(), input)
	if err != nil {
		return err
	}

	access, _, err := h.issuer.Issue(user.ID)
	if err != nil {
		return err
	}

	return router.WriteJSON(w, http.StatusCreated, RegisterResponse{User: h.view(user), Access: access})
}

type TokenRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type TokenResponse struct {
	Access    string    `json:"access"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *UserHandler) TokenHandler(w http.ResponseWriter, r *http.Request) error {
	var req TokenRequest
	if err := decodeAndValidate(r, &req); err != nil {
		return err
	}

	user, err := h.store.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		return err
	}

	access, expiresAt, err := h.issuer.Issue(user.ID)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, TokenResponse{Access: access, ExpiresAt: expiresAt})
}

func (h *UserHandler) ProfileHandler(w http.ResponseWriter, r *http.Request) error {
	user := core.UserFromRequest(r)
	return router.WriteJSON(w, http.StatusOK, h.view(user))
}

func (h *UserHandler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) error {
	user := core.UserFromRequest(r)
	var input core.UserUpdateInput
	if err := decodeAndValidate(r, &input); err != nil {
		return err
	}

	updated, err := h.store.UpdateUser(r.Context(), user.ID, input)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, h.view(updated))
}

// ListUsersHandler returns the usernames of every other user.
func (h *UserHandler) ListUsersHandler(w http.ResponseWriter, r *http.Request) error {
	self := core.UserFromRequest(r)
	users, err := h.store.GetUsers(r.Context())
	if err != nil {
		return err
	}

	names := make([]string, 0, len(users))
	for _, u := range users {
		if u.ID == self.ID {
			continue
		}
		names = append(names, u.Username)
	}
	return router.WriteJSON(w, http.StatusOK, names)
}

// decodeAndValidate decodes the JSON body into v and validates it.
func decodeAndValidate(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return router.Errorf(http.StatusBadRequest, "invalid json: %v", err)
	}

	if err := validate.Struct(v); err != nil {
		msg := strings.TrimSpace(FormatValidationErrors(err))
		return router.NewJsonError(http.StatusBadRequest, strings.ReplaceAll(msg, "\n", "; "))
	}
	return nil
}
