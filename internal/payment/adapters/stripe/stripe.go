package stripe

import (
	"context"

	stripesdk "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/quotehive/quotehive/internal/config"
	"github.com/quotehive/quotehive/internal/payment/domain"
)

// Gateway drives Stripe Connect destination charges: the customer pays the
// full amount, the platform keeps the application fee, the remainder
// transfers to the provider's connected account.
type Gateway struct {
	api *client.API
}

func New(cfg config.Config) domain.Gateway {
	api := &client.API{}
	api.Init(cfg.StripeSecretKey, nil)
	return &Gateway{api: api}
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, params domain.CheckoutSessionParams) (*domain.CheckoutSession, error) {
	sessionParams := &stripesdk.CheckoutSessionParams{
		Params: stripesdk.Params{Context: ctx},
		Mode:   stripesdk.String(string(stripesdk.CheckoutSessionModePayment)),
		LineItems: []*stripesdk.CheckoutSessionLineItemParams{
			{
				PriceData: &stripesdk.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripesdk.String(params.Currency),
					UnitAmount: stripesdk.Int64(params.Amount),
					ProductData: &stripesdk.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripesdk.String(params.Description),
					},
				},
				Quantity: stripesdk.Int64(1),
			},
		},
		PaymentIntentData: &stripesdk.CheckoutSessionPaymentIntentDataParams{
			ApplicationFeeAmount: stripesdk.Int64(params.ApplicationFee),
			TransferData: &stripesdk.CheckoutSessionPaymentIntentDataTransferDataParams{
				Destination: stripesdk.String(params.Destination),
			},
		},
		SuccessURL: stripesdk.String(params.SuccessURL),
		CancelURL:  stripesdk.String(params.CancelURL),
	}
	if params.CustomerEmail != "" {
		sessionParams.CustomerEmail = stripesdk.String(params.CustomerEmail)
	}
	sessionParams.AddMetadata("booking_id", params.BookingID.String())
	sessionParams.SetIdempotencyKey("checkout:" + params.BookingID.String())

	session, err := g.api.CheckoutSessions.New(sessionParams)
	if err != nil {
		return nil, err
	}
	return &domain.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (g *Gateway) CreateRefund(ctx context.Context, paymentIntentID string, amount int64, idempotencyKey string) (string, error) {
	refundParams := &stripesdk.RefundParams{
		Params:        stripesdk.Params{Context: ctx},
		PaymentIntent: stripesdk.String(paymentIntentID),
		Amount:        stripesdk.Int64(amount),
	}
	refundParams.SetIdempotencyKey(idempotencyKey)

	refund, err := g.api.Refunds.New(refundParams)
	if err != nil {
		return "", err
	}
	return refund.ID, nil
}

func (g *Gateway) GetRefundStatus(ctx context.Context, refundID string) (string, error) {
	refund, err := g.api.Refunds.Get(refundID, &stripesdk.RefundParams{
		Params: stripesdk.Params{Context: ctx},
	})
	if err != nil {
		return "", err
	}
	return string(refund.Status), nil
}

func (g *Gateway) CreateTransfer(ctx context.Context, params domain.TransferParams) (string, error) {
	transferParams := &stripesdk.TransferParams{
		Params:      stripesdk.Params{Context: ctx},
		Amount:      stripesdk.Int64(params.Amount),
		Currency:    stripesdk.String(params.Currency),
		Destination: stripesdk.String(params.Destination),
	}
	for key, value := range params.Metadata {
		transferParams.AddMetadata(key, value)
	}
	if params.IdempotencyKey != "" {
		transferParams.SetIdempotencyKey(params.IdempotencyKey)
	}

	transfer, err := g.api.Transfers.New(transferParams)
	if err != nil {
		return "", err
	}
	return transfer.ID, nil
}

func (g *Gateway) CreateConnectedAccount(ctx context.Context, email string) (string, error) {
	accountParams := &stripesdk.AccountParams{
		Params: stripesdk.Params{Context: ctx},
		Type:   stripesdk.String(string(stripesdk.AccountTypeExpress)),
		Email:  stripesdk.String(email),
		Capabilities: &stripesdk.AccountCapabilitiesParams{
			Transfers: &stripesdk.AccountCapabilitiesTransfersParams{
				Requested: stripesdk.Bool(true),
			},
		},
	}
	account, err := g.api.Accounts.New(accountParams)
	if err != nil {
		return "", err
	}
	return account.ID, nil
}

func (g *Gateway) CreateAccountLink(ctx context.Context, params domain.AccountLinkParams) (string, error) {
	link, err := g.api.AccountLinks.New(&stripesdk.AccountLinkParams{
		Params:     stripesdk.Params{Context: ctx},
		Account:    stripesdk.String(params.AccountID),
		RefreshURL: stripesdk.String(params.RefreshURL),
		ReturnURL:  stripesdk.String(params.ReturnURL),
		Type:       stripesdk.String("account_onboarding"),
	})
	if err != nil {
		return "", err
	}
	return link.URL, nil
}
