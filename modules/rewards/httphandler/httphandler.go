package httphandler

import (
	"github.com/poybro/soknode/modules/rewards"
)

type HttpHandler struct {
	service *rewards.Service
}

func New(service *rewards.Service) *HttpHandler {
	return &HttpHandler{
		service: service,
	}
}

type messageResponse struct {
	Message string `json:"message"`
}
