package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/config"
	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/metering"
	"github.com/wordai/api/internal/metrics"
	"github.com/wordai/api/internal/model"
)

// ErrWebhookUnauthorized is returned when the gateway's API key is wrong.
var ErrWebhookUnauthorized = errors.New("invalid webhook api key")

// PaymentService credits points for confirmed bank transfers.
type PaymentService struct {
	gate          *metering.Gate
	apiKey        string
	pointsPerUnit float64
	ownerPattern  *regexp.Regexp
	log           *zerolog.Logger
}

func NewPaymentService(gate *metering.Gate, cfg config.PaymentConfig, logger *zerolog.Logger) *PaymentService {
	l := logging.Component(logger, "PaymentService")
	return &PaymentService{
		gate:          gate,
		apiKey:        cfg.SePayAPIKey,
		pointsPerUnit: cfg.PointsPerUnit,
		ownerPattern:  regexp.MustCompile(regexp.QuoteMeta(cfg.ContentPrefix) + `([A-Za-z0-9_-]{3,64})`),
		log:           l,
	}
}

// Authorize checks the "Apikey <key>" Authorization header SePay sends.
func (s *PaymentService) Authorize(header string) error {
	if s.apiKey == "" {
		return ErrWebhookUnauthorized
	}
	key, ok := strings.CutPrefix(header, "Apikey ")
	if !ok || subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
		s.log.Warn().Str("presented_key", logging.Redact(key)).Msg("payment webhook rejected")
		return ErrWebhookUnauthorized
	}
	return nil
}

// HandleSePayWebhook credits an incoming transfer to the owner named in its
// content. Each SePay transaction id is credited at most once; transfers
// that cannot be matched are acknowledged without crediting so the gateway
// stops retrying.
func (s *PaymentService) HandleSePayWebhook(ctx context.Context, w *model.SePayWebhook) (*model.PaymentWebhookResponse, error) {
	log := s.log.With().Int64("sepay_id", w.ID).Int64("amount", w.TransferAmount).Logger()

	if w.TransferType != "in" {
		metrics.IncPayment("ignored")
		return &model.PaymentWebhookResponse{Success: true}, nil
	}

	ownerID := s.ownerFrom(w)
	if ownerID == "" {
		metrics.IncPayment("unmatched")
		log.Warn().Str("content", w.Content).Msg("transfer does not name an owner")
		return &model.PaymentWebhookResponse{Success: true}, nil
	}

	points := s.pointsFor(w.TransferAmount)
	if points <= 0 {
		metrics.IncPayment("ignored")
		log.Warn().Str("owner_id", ownerID).Msg("transfer too small to credit")
		return &model.PaymentWebhookResponse{Success: true, OwnerID: ownerID}, nil
	}

	credited, err := s.gate.Credit(ctx, ownerID, points, "sepay_topup", fmt.Sprintf("sepay:%d", w.ID))
	if err != nil {
		metrics.IncPayment("error")
		return nil, err
	}
	if !credited {
		metrics.IncPayment("duplicate")
		log.Info().Str("owner_id", ownerID).Msg("transfer already credited")
		return &model.PaymentWebhookResponse{Success: true, OwnerID: ownerID}, nil
	}

	metrics.IncPayment("credited")
	log.Info().Str("owner_id", ownerID).Int64("points", points).Msg("points credited")
	return &model.PaymentWebhookResponse{Success: true, Credited: points, OwnerID: ownerID}, nil
}

// pointsFor converts a transfer amount to points, rounding to the nearest
// point so that 2.9 points of value credit 3.
func (s *PaymentService) pointsFor(amount int64) int64 {
	return int64(math.Round(float64(amount) * s.pointsPerUnit))
}

func (s *PaymentService) ownerFrom(w *model.SePayWebhook) string {
	for _, text := range []string{w.Code, w.Content} {
		if m := s.ownerPattern.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}
