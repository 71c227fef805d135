package dto

import (
	"encoding/json"
	"time"

	"magiclink/internal/entity"
)

type LoginRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type SignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"omitempty,max=300"`
	Username string `json:"username" validate:"omitempty,min=3,max=150"`
}

type VerifyRequest struct {
	Token string `query:"token" validate:"required"`
	Email string `query:"email" validate:"omitempty"`
}

type LoginSentResponse struct {
	Message   string    `json:"message"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

type FieldErrorResponse struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type SweepResponse struct {
	Disabled int64 `json:"disabled"`
	Deleted  int64 `json:"deleted"`
}

// MagicLinkResponse describes a pending link without its token.
type MagicLinkResponse struct {
	ID          uint      `json:"id"`
	RedirectURL string    `json:"redirect_url"`
	TimesUsed   int       `json:"times_used"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func MagicLinkResponsesFromEntities(links []entity.MagicLink) []MagicLinkResponse {
	responses := make([]MagicLinkResponse, 0, len(links))
	for _, link := range links {
		responses = append(responses, MagicLinkResponse{
			ID:          link.ID,
			RedirectURL: link.RedirectURL,
			TimesUsed:   link.TimesUsed,
			ExpiresAt:   link.Expiry,
			CreatedAt:   link.Created,
		})
	}
	return responses
}

type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func UserResponseFromEntity(user *entity.User) UserResponse {
	response := UserResponse{
		ID:        user.ID.String(),
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role(),
		IsActive:  user.IsActive,
		CreatedAt: user.CreatedAt,
	}
	if user.Username != nil {
		response.Username = *user.Username
	}
	return response
}

func UserResponsesFromEntities(users []entity.User) []UserResponse {
	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, UserResponseFromEntity(&users[i]))
	}
	return responses
}

type SecurityEventResponse struct {
	Action    string          `json:"action"`
	IPAddress string          `json:"ip_address,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func SecurityEventsFromEntities(logs []entity.SecurityLog) []SecurityEventResponse {
	responses := make([]SecurityEventResponse, 0, len(logs))
	for _, log := range logs {
		event := SecurityEventResponse{
			Action:    string(log.Action),
			Metadata:  json.RawMessage(log.Metadata),
			CreatedAt: log.CreatedAt,
		}
		if log.IPAddress != nil {
			event.IPAddress = *log.IPAddress
		}
		responses = append(responses, event)
	}
	return responses
}
