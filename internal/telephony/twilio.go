package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// statusCallbackEvents are the leg transitions the carrier reports back.
var statusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

// callAPI is the subset of the Twilio REST API used for call control.
type callAPI interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
	UpdateCall(sid string, params *twilioApi.UpdateCallParams) (*twilioApi.ApiV2010Call, error)
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// TwilioProvider places and ends calls through the Twilio REST API.
type TwilioProvider struct {
	api  callAPI
	from string
}

func NewTwilioProvider(cfg TwilioConfig) *TwilioProvider {
	c := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioProvider{api: c.Api, from: cfg.FromNumber}
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if err := req.Validate(); err != nil {
		return PlaceCallResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return PlaceCallResult{}, fmt.Errorf("%w: %w", ErrPlaceCall, err)
	}

	from := req.From
	if from == "" {
		from = p.from
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(from)
	params.SetUrl(req.TwiMLURL)
	if req.StatusCallbackURL != "" {
		params.SetStatusCallback(req.StatusCallbackURL)
		params.SetStatusCallbackEvent(statusCallbackEvents)
		params.SetStatusCallbackMethod(http.MethodPost)
	}
	if req.RingTimeout > 0 {
		params.SetTimeout(int(req.RingTimeout.Seconds()))
	}

	call, err := p.api.CreateCall(params)
	if err != nil {
		return PlaceCallResult{}, wrapTwilioErr(ErrPlaceCall, err)
	}
	if call == nil || call.Sid == nil || *call.Sid == "" {
		return PlaceCallResult{}, fmt.Errorf("%w: carrier returned no call sid", ErrPlaceCall)
	}
	return PlaceCallResult{ProviderCallID: *call.Sid, State: LegInitiated}, nil
}

func (p *TwilioProvider) Hangup(ctx context.Context, providerCallID string) error {
	if providerCallID == "" {
		return errors.Join(ErrInvalidInput, errors.New("provider call id is required"))
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrHangup, err)
	}
	params := &twilioApi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := p.api.UpdateCall(providerCallID, params); err != nil {
		return wrapTwilioErr(ErrHangup, err)
	}
	return nil
}

// wrapTwilioErr keeps the carrier's code and message and marks throttling or
// server-side failures as retryable.
func wrapTwilioErr(kind, err error) error {
	var te *client.TwilioRestError
	if !errors.As(err, &te) {
		return fmt.Errorf("%w: %w", kind, err)
	}
	wrapped := fmt.Errorf("%w: twilio %d (http %d): %s", kind, te.Code, te.Status, te.Message)
	if te.Status == http.StatusTooManyRequests || te.Status >= 500 {
		return &retryableError{err: wrapped}
	}
	return wrapped
}
