package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quotehive/quotehive/internal/booking/domain"
	ledgerdomain "github.com/quotehive/quotehive/internal/ledger/domain"
	platformdomain "github.com/quotehive/quotehive/internal/platformconfig/domain"
	providerdomain "github.com/quotehive/quotehive/internal/provider/domain"
	quotedomain "github.com/quotehive/quotehive/internal/quote/domain"
	requestdomain "github.com/quotehive/quotehive/internal/quoterequest/domain"
	"github.com/quotehive/quotehive/internal/tasks"
	pkgdb "github.com/quotehive/quotehive/pkg/db"
	"github.com/quotehive/quotehive/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Platform     platformdomain.Service
	ProviderRepo providerdomain.Repository
	Ledger       ledgerdomain.Service
	Enqueuer     *tasks.Enqueuer `optional:"true"`
}

type service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	platform     platformdomain.Service
	providerRepo providerdomain.Repository
	ledger       ledgerdomain.Service
	enqueuer     *tasks.Enqueuer
}

func New(p Params) domain.Service {
	return &service{
		db:           p.DB,
		log:          p.Log.Named("booking.service"),
		genID:        p.GenID,
		platform:     p.Platform,
		providerRepo: p.ProviderRepo,
		ledger:       p.Ledger,
		enqueuer:     p.Enqueuer,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Booking, error) {
	var quote quotedomain.Quote
	if err := s.db.WithContext(ctx).First(&quote, "id = ?", req.QuoteID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrQuoteNotFound
		}
		return nil, err
	}

	var request requestdomain.QuoteRequest
	if err := s.db.WithContext(ctx).First(&request, "id = ?", quote.RequestID).Error; err != nil {
		return nil, err
	}
	if request.CustomerID != req.CustomerID {
		return nil, domain.ErrNotOwner
	}
	if !quote.Pending() {
		return nil, domain.ErrQuoteNotPending
	}
	now := time.Now().UTC()
	if now.After(quote.ExpiresAt) {
		return nil, domain.ErrQuoteExpired
	}

	feeRate := s.platform.FeeRate(ctx)
	fee, earnings := domain.SplitFee(quote.Price, feeRate)

	scheduled := req.ScheduledDate
	if scheduled == nil {
		scheduled = quote.AvailableDate
	}
	if scheduled == nil {
		scheduled = request.PreferredDate
	}
	address := request.Postcode
	if request.City != "" {
		address = request.City + " " + request.Postcode
	}
	if address == "" {
		address = "TBD"
	}

	booking := domain.Booking{
		ID:               s.genID.Generate(),
		QuoteID:          quote.ID,
		RequestID:        request.ID,
		CustomerID:       request.CustomerID,
		ProviderID:       quote.ProviderID,
		ScheduledDate:    scheduled,
		DurationMinutes:  quote.DurationMinutes,
		Address:          address,
		Subtotal:         quote.Price,
		FeeRate:          feeRate,
		PlatformFee:      fee,
		ProviderEarnings: earnings,
		Status:           domain.StatusPending,
		PaymentStatus:    domain.PaymentPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&booking).Error; err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return domain.ErrAlreadyBooked
			}
			return err
		}

		accepted := tx.Model(&quotedomain.Quote{}).
			Where("id = ?", quote.ID).
			Where("status IN ?", []quotedomain.Status{quotedomain.StatusSent, quotedomain.StatusViewed}).
			Updates(map[string]any{"status": quotedomain.StatusAccepted, "updated_at": now})
		if accepted.Error != nil {
			return accepted.Error
		}
		if accepted.RowsAffected == 0 {
			return domain.ErrQuoteNotPending
		}

		// Other open quotes on the request lose.
		if err := tx.Model(&quotedomain.Quote{}).
			Where("request_id = ? AND id <> ?", request.ID, quote.ID).
			Where("status IN ?", []quotedomain.Status{quotedomain.StatusSent, quotedomain.StatusViewed}).
			Updates(map[string]any{"status": quotedomain.StatusDeclined, "updated_at": now}).Error; err != nil {
			return err
		}

		return tx.Model(&requestdomain.QuoteRequest{}).
			Where("id = ?", request.ID).
			Updates(map[string]any{"status": requestdomain.StatusBooked, "updated_at": now}).Error
	})
	if err != nil {
		return nil, err
	}

	s.notifyProvider(ctx, booking, "booking_created",
		"Quote accepted: "+request.Title,
		fmt.Sprintf("Your £%.2f quote was accepted. Confirm the booking to proceed.", float64(booking.Subtotal)/100))

	s.log.Info("booking created",
		zap.Int64("booking_id", booking.ID.Int64()),
		zap.Int64("quote_id", quote.ID.Int64()),
		zap.Int64("subtotal", booking.Subtotal),
		zap.Int64("platform_fee", booking.PlatformFee),
	)
	return &booking, nil
}

func (s *service) Get(ctx context.Context, id snowflake.ID) (*domain.Booking, error) {
	var booking domain.Booking
	err := s.db.WithContext(ctx).First(&booking, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (s *service) GetBySessionID(ctx context.Context, sessionID string) (*domain.Booking, error) {
	var booking domain.Booking
	err := s.db.WithContext(ctx).First(&booking, "stripe_session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (s *service) List(ctx context.Context, req domain.ListRequest) ([]domain.Booking, *pagination.PageInfo, error) {
	page := req.Pagination.Normalize()

	query := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(page.PageSize + 1)
	if req.Role == "provider" {
		query = query.Where("provider_id = ?", req.UserID)
	} else {
		query = query.Where("customer_id = ?", req.UserID)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, nil, err
		}
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var bookings []domain.Booking
	if err := query.Find(&bookings).Error; err != nil {
		return nil, nil, err
	}
	bookings, info := pagination.BuildCursorPageInfo(bookings, page.PageSize, func(b domain.Booking) pagination.Cursor {
		return pagination.Cursor{ID: b.ID.Int64(), CreatedAt: b.CreatedAt}
	})
	return bookings, info, nil
}

func (s *service) Accept(ctx context.Context, id, providerID snowflake.ID) error {
	booking, err := s.requireProvider(ctx, id, providerID)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, id, []domain.Status{domain.StatusPending}, domain.StatusAccepted, nil); err != nil {
		return err
	}
	s.notifyCustomer(ctx, *booking, "booking_accepted",
		"Booking confirmed by your provider",
		"Your provider accepted the booking. You can now pay to secure it.")
	return nil
}

func (s *service) Decline(ctx context.Context, id, providerID snowflake.ID) error {
	booking, err := s.requireProvider(ctx, id, providerID)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, id, []domain.Status{domain.StatusPending}, domain.StatusDeclined, nil); err != nil {
		return err
	}
	s.notifyCustomer(ctx, *booking, "booking_declined",
		"Booking declined",
		"Your provider declined the booking. Your other quotes may still be available.")
	return nil
}

func (s *service) Cancel(ctx context.Context, id, userID snowflake.ID) error {
	booking, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if booking == nil {
		return domain.ErrNotFound
	}
	if booking.CustomerID != userID && booking.ProviderID != userID {
		return domain.ErrNotOwner
	}
	now := time.Now().UTC()
	err = s.transition(ctx, id,
		[]domain.Status{domain.StatusPending, domain.StatusAccepted, domain.StatusConfirmed},
		domain.StatusCancelled,
		map[string]any{"cancelled_at": now})
	if err != nil {
		return err
	}

	if userID == booking.CustomerID {
		s.notifyProvider(ctx, *booking, "booking_cancelled", "Booking cancelled", "The customer cancelled the booking.")
	} else {
		s.notifyCustomer(ctx, *booking, "booking_cancelled", "Booking cancelled", "Your provider cancelled the booking.")
	}
	return nil
}

func (s *service) Complete(ctx context.Context, id, userID snowflake.ID) error {
	booking, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if booking == nil {
		return domain.ErrNotFound
	}
	if booking.CustomerID != userID && booking.ProviderID != userID {
		return domain.ErrNotOwner
	}

	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.Booking{}).
			Where("id = ?", id).
			Where("status IN ?", []domain.Status{domain.StatusPaid, domain.StatusConfirmed}).
			Updates(map[string]any{"status": domain.StatusCompleted, "completed_at": now, "updated_at": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrInvalidTransition
		}

		// Earnings accrue to the provider's platform balance only when the
		// platform collected the payment.
		if booking.PaymentStatus == domain.PaymentPaid {
			if err := s.providerRepo.CreditBalance(ctx, tx, booking.ProviderID, booking.ProviderEarnings); err != nil {
				return err
			}
			bookingID := booking.ID
			_, err := s.ledger.Append(ctx, tx, ledgerdomain.AppendRequest{
				ProviderID:  booking.ProviderID,
				EntryType:   ledgerdomain.EntryBookingEarning,
				Amount:      booking.ProviderEarnings,
				BookingID:   &bookingID,
				Description: "Earnings for booking " + booking.ID.String(),
			})
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notifyProvider(ctx, *booking, "booking_completed",
		"Booking completed",
		fmt.Sprintf("£%.2f has been credited to your balance.", float64(booking.ProviderEarnings)/100))
	s.notifyCustomer(ctx, *booking, "booking_completed",
		"Job complete",
		"Your booking is complete. Leave a review to help other customers.")
	return nil
}

func (s *service) AttachSession(ctx context.Context, id snowflake.ID, sessionID string) error {
	result := s.db.WithContext(ctx).Model(&domain.Booking{}).
		Where("id = ?", id).
		Updates(map[string]any{"stripe_session_id": sessionID, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *service) AutoConfirm(ctx context.Context, id snowflake.ID) error {
	return s.transition(ctx, id,
		[]domain.Status{domain.StatusAccepted},
		domain.StatusConfirmed, nil)
}

func (s *service) MarkPaid(ctx context.Context, id snowflake.ID, paymentIntentID string) error {
	booking, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if booking == nil {
		return domain.ErrNotFound
	}
	if booking.Status == domain.StatusPaid {
		return nil // webhook re-delivery
	}

	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.Booking{}).
			Where("id = ?", id).
			Where("status IN ?", []domain.Status{domain.StatusAccepted, domain.StatusConfirmed}).
			Updates(map[string]any{
				"status":            domain.StatusPaid,
				"payment_status":    domain.PaymentPaid,
				"payment_intent_id": paymentIntentID,
				"paid_at":           now,
				"updated_at":        now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrInvalidTransition
		}
		return tx.Model(&quotedomain.Quote{}).
			Where("id = ?", booking.QuoteID).
			Updates(map[string]any{"status": quotedomain.StatusBooked, "updated_at": now}).Error
	})
	if err != nil {
		return err
	}

	s.notifyProvider(ctx, *booking, "booking_paid",
		"Booking paid",
		fmt.Sprintf("The customer paid £%.2f. You earn £%.2f on completion.",
			float64(booking.Subtotal)/100, float64(booking.ProviderEarnings)/100))
	s.notifyCustomer(ctx, *booking, "booking_paid",
		"Payment received",
		"Your payment went through. The booking is confirmed.")
	return nil
}

func (s *service) ApplyRefundTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, amount int64) (domain.PaymentStatus, error) {
	if amount <= 0 {
		return "", domain.ErrInvalidAmount
	}

	var booking domain.Booking
	if err := tx.WithContext(ctx).First(&booking, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	if booking.PaymentStatus != domain.PaymentPaid && booking.PaymentStatus != domain.PaymentPartiallyRefunded {
		return "", domain.ErrNotRefundable
	}
	refunded := booking.RefundedAmount + amount
	if refunded > booking.Subtotal {
		return "", domain.ErrRefundExceedsPaid
	}

	status := domain.PaymentPartiallyRefunded
	if refunded == booking.Subtotal {
		status = domain.PaymentRefunded
	}
	err := tx.WithContext(ctx).Model(&domain.Booking{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"refunded_amount": refunded,
			"payment_status":  status,
			"updated_at":      time.Now().UTC(),
		}).Error
	if err != nil {
		return "", err
	}
	return status, nil
}

func (s *service) requireProvider(ctx context.Context, id, providerID snowflake.ID) (*domain.Booking, error) {
	booking, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, domain.ErrNotFound
	}
	if booking.ProviderID != providerID {
		return nil, domain.ErrNotOwner
	}
	return booking, nil
}

func (s *service) transition(ctx context.Context, id snowflake.ID, from []domain.Status, to domain.Status, extra map[string]any) error {
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range extra {
		updates[k] = v
	}
	result := s.db.WithContext(ctx).Model(&domain.Booking{}).
		Where("id = ?", id).
		Where("status IN ?", from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrInvalidTransition
	}
	s.log.Info("booking transition",
		zap.Int64("booking_id", id.Int64()),
		zap.String("to", string(to)),
	)
	return nil
}

func (s *service) notifyProvider(ctx context.Context, booking domain.Booking, kind, title, body string) {
	if s.enqueuer == nil {
		return
	}
	provider, err := s.providerRepo.FindByID(ctx, s.db, booking.ProviderID)
	if err != nil || provider == nil {
		return
	}
	s.enqueuer.NotifyUser(ctx, tasks.NotificationDeliverPayload{
		UserID: provider.UserID.Int64(),
		Kind:   kind,
		Title:  title,
		Body:   body,
		Data:   map[string]string{"booking_id": booking.ID.String()},
	})
}

func (s *service) notifyCustomer(ctx context.Context, booking domain.Booking, kind, title, body string) {
	if s.enqueuer == nil {
		return
	}
	s.enqueuer.NotifyUser(ctx, tasks.NotificationDeliverPayload{
		UserID: booking.CustomerID.Int64(),
		Kind:   kind,
		Title:  title,
		Body:   body,
		Data:   map[string]string{"booking_id": booking.ID.String()},
	})
}
