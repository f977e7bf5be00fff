package handlers

import (
	"github.com/soletrade/livechat/internal/config"
	"github.com/soletrade/livechat/internal/realtime"
	"github.com/soletrade/livechat/internal/store/rabbitmq"
	"github.com/soletrade/livechat/internal/store/redisstore"
	"github.com/soletrade/livechat/internal/support"
)

type Handler struct {
	Cfg      config.Config
	Svc      *support.Service
	Hub      *realtime.Hub
	Rabbit   *rabbitmq.Publisher
	Presence *redisstore.Store
}

func NewHandler(cfg config.Config, svc *support.Service, hub *realtime.Hub, rabbit *rabbitmq.Publisher, presence *redisstore.Store) *Handler {
	return &Handler{
		Cfg:      cfg,
		Svc:      svc,
		Hub:      hub,
		Rabbit:   rabbit,
		Presence: presence,
	}
}
