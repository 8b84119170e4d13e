package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/searchleads/billing/internal/clock"
	invoicelogdomain "github.com/searchleads/billing/internal/invoicelog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  invoicelogdomain.Repository
	node  *snowflake.Node
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  invoicelogdomain.Repository
	Node  *snowflake.Node
}

func NewService(p Params) invoicelogdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoicelog.service"),
		clock: p.Clock,
		repo:  p.Repo,
		node:  p.Node,
	}
}

func (s *Service) Record(ctx context.Context, record *invoicelogdomain.InvoiceRecord) error {
	if record.ID == 0 {
		record.ID = s.node.Generate()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.clock.Now()
	}
	return s.repo.Insert(ctx, s.db, record)
}

func (s *Service) History(ctx context.Context, userID string, limit int) ([]invoicelogdomain.InvoiceRecord, error) {
	return s.repo.ListByUser(ctx, s.db, userID, limit)
}
