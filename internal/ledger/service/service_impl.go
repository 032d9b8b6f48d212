package service

import (
	"time"

	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	ledgerdomain "github.com/quotehive/quotehive/internal/ledger/domain"
	providerdomain "github.com/quotehive/quotehive/internal/provider/domain"
	"github.com/quotehive/quotehive/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
	}
}

func validEntryType(t ledgerdomain.EntryType) bool {
	switch t {
	case ledgerdomain.EntryBookingEarning,
		ledgerdomain.EntryPayout,
		ledgerdomain.EntryRefundDebit,
		ledgerdomain.EntryAdjustment:
		return true
	}
	return false
}

// Append must run in the same transaction as the balance mutation it records.
func (s *Service) Append(ctx context.Context, tx *gorm.DB, req ledgerdomain.AppendRequest) (*ledgerdomain.Entry, error) {
	if !validEntryType(req.EntryType) {
		return nil, ledgerdomain.ErrInvalidEntryType
	}

	var provider providerdomain.Provider
	err := tx.WithContext(ctx).
		Select("id", "available_balance").
		First(&provider, "id = ?", req.ProviderID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ledgerdomain.ErrProviderNotFound
		}
		return nil, err
	}

	entry := ledgerdomain.Entry{
		ID:           s.genID.Generate(),
		ProviderID:   req.ProviderID,
		EntryType:    req.EntryType,
		Amount:       req.Amount,
		BalanceAfter: provider.AvailableBalance,
		BookingID:    req.BookingID,
		PayoutID:     req.PayoutID,
		Description:  req.Description,
		CreatedAt:    time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, err
	}

	s.log.Debug("ledger entry appended",
		zap.Int64("provider_id", req.ProviderID.Int64()),
		zap.String("entry_type", string(req.EntryType)),
		zap.Int64("amount", req.Amount),
		zap.Int64("balance_after", entry.BalanceAfter),
	)
	return &entry, nil
}

func (s *Service) List(ctx context.Context, req ledgerdomain.ListRequest) ([]ledgerdomain.Entry, *pagination.PageInfo, error) {
	page := req.Pagination.Normalize()

	query := s.db.WithContext(ctx).
		Where("provider_id = ?", req.ProviderID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(page.PageSize + 1)

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, nil, err
		}
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var entries []ledgerdomain.Entry
	if err := query.Find(&entries).Error; err != nil {
		return nil, nil, err
	}

	entries, info := pagination.BuildCursorPageInfo(entries, page.PageSize, func(e ledgerdomain.Entry) pagination.Cursor {
		return pagination.Cursor{ID: e.ID.Int64(), CreatedAt: e.CreatedAt}
	})
	return entries, info, nil
}
