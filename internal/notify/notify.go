package notify

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"gridwatch/pkg/logx"
)

// ErrNoChannels is returned by Deliver when no channel is configured.
var ErrNoChannels = errors.New("no notification channels configured")

// Poster is one outbound announcement channel.
type Poster interface {
	Name() string
	Post(ctx context.Context, status string) error
}

// Service fans a status out to every configured channel, pacing posts
// with a shared rate limiter. Channels can be swapped at runtime when
// config toggles change.
type Service struct {
	log     logx.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	posters []Poster
}

func New(ratePerSec int, log logx.Logger) *Service {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}
}

// SetPosters replaces the active channel set.
func (s *Service) SetPosters(ps ...Poster) {
	s.mu.Lock()
	s.posters = append([]Poster(nil), ps...)
	s.mu.Unlock()
}

// Deliver posts status to every active channel and returns how many
// accepted it. A channel failure does not stop delivery to the rest;
// the joined errors are returned alongside the success count so the
// caller can decide whether the record counts as notified.
func (s *Service) Deliver(ctx context.Context, status string) (int, error) {
	s.mu.Lock()
	posters := append([]Poster(nil), s.posters...)
	s.mu.Unlock()

	if len(posters) == 0 {
		return 0, ErrNoChannels
	}

	delivered := 0
	var errs []error
	for _, p := range posters {
		if err := s.limiter.Wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}
		if err := p.Post(ctx, status); err != nil {
			s.log.Warn("post rejected", logx.String("channel", p.Name()), logx.Err(err))
			errs = append(errs, err)
			continue
		}
		s.log.Debug("status posted", logx.String("channel", p.Name()))
		delivered++
	}
	return delivered, errors.Join(errs...)
}
