package handlers

import (
	"gorm.io/gorm"

	"github.com/mouseland/aistudio/internal/blob"
	"github.com/mouseland/aistudio/internal/config"
	"github.com/mouseland/aistudio/internal/email"
	"github.com/mouseland/aistudio/internal/identity"
	"github.com/mouseland/aistudio/internal/request"
	"github.com/mouseland/aistudio/internal/sse"
	"github.com/mouseland/aistudio/internal/store/redisstore"
)

type Handler struct {
	DB          *gorm.DB
	Cfg         config.Config
	Redis       *redisstore.Store
	Svc         *request.Service
	Resolver    *identity.Resolver
	Blob        *blob.Store
	Hub         *sse.Hub
	SMTPSetting email.SMTPConfig
}

func NewHandler(db *gorm.DB, cfg config.Config, rds *redisstore.Store, svc *request.Service, resolver *identity.Resolver, blobStore *blob.Store, hub *sse.Hub) *Handler {
	return &Handler{
		DB:       db,
		Cfg:      cfg,
		Redis:    rds,
		Svc:      svc,
		Resolver: resolver,
		Blob:     blobStore,
		Hub:      hub,
		SMTPSetting: email.SMTPConfig{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			User: cfg.SMTPUser,
			Pass: cfg.SMTPPass,
			From: cfg.SMTPFrom,
		},
	}
}
