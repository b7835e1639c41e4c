package api

import "github.com/sogeor/flow/domain"

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type createAccountRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Username string `json:"username" validate:"required"`
}

type createBoardRequest struct {
	Title    string                `json:"title" validate:"required"`
	Settings *domain.BoardSettings `json:"settings"`
}

type createWorkflowRequest struct {
	Title string `json:"title" validate:"required"`
}

type createCardRequest struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
}

type idResponse struct {
	ID string `json:"_id"`
}

type messageResponse struct {
	Message string `json:"message"`
}
