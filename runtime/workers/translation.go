package workers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"local-language/contract"
	"local-language/domain"
	"local-language/errors"

	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

type TranslationConfig struct {
	Buffer  int
	Timeout time.Duration
	Rate    float64 // requests per second, 0 means unlimited
	Burst   int
}

var _ contract.Worker = (*TranslationOverlay)(nil)

// TranslationOverlay fetches translations for confirmed messages in the
// background. Results go to the callback registered with OnResult, failures
// are dropped: the message simply shows without translation.
type TranslationOverlay struct {
	log        *slog.Logger
	translator contract.Translator
	limiter    *rate.Limiter
	timeout    time.Duration
	jobs       chan domain.TranslationJob

	mu       sync.Mutex
	// seen holds message/generation keys per conversation
	seen     map[string]map[string]struct{}
	onResult func(domain.TranslationJob, domain.Translation)
}

func NewTranslationOverlay(log *slog.Logger, translator contract.Translator, cfg TranslationConfig) *TranslationOverlay {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	return &TranslationOverlay{
		log:        log.With("component", "translation"),
		translator: translator,
		limiter:    rate.NewLimiter(limit, max(cfg.Burst, 1)),
		timeout:    cfg.Timeout,
		jobs:       make(chan domain.TranslationJob, cfg.Buffer),
		seen:       make(map[string]map[string]struct{}),
	}
}

func (o *TranslationOverlay) OnResult(fn func(domain.TranslationJob, domain.Translation)) *TranslationOverlay {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onResult = fn
	return o
}

// Workers returns n handles on the same overlay so the supervisor runs n
// translations concurrently.
func (o *TranslationOverlay) Workers(n int) []contract.Worker {
	return lo.Times(max(n, 1), func(int) contract.Worker { return o })
}

// Enqueue never blocks. A message is translated at most once per
// conversation lifecycle; false means the job was a duplicate or the
// queue is full.
func (o *TranslationOverlay) Enqueue(job domain.TranslationJob) bool {
	if job.MessageID == "" || strings.TrimSpace(job.Text) == "" || domain.SameLanguage(job.SourceLanguage, job.TargetLanguage) {
		return false
	}
	key := fmt.Sprintf("%s/%d", job.MessageID, job.Generation)
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.seen[job.ConversationID][key]; ok {
		return false
	}
	select {
	case o.jobs <- job:
		if o.seen[job.ConversationID] == nil {
			o.seen[job.ConversationID] = make(map[string]struct{})
		}
		o.seen[job.ConversationID][key] = struct{}{}
		return true
	default:
		o.log.Debug("Translation queue full", "message_id", job.MessageID)
		return false
	}
}

// Forget releases the dedupe keys of a conversation. Jobs still queued for
// it are translated, their results are dropped as stale by the caller.
func (o *TranslationOverlay) Forget(conversationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.seen, conversationID)
}

func (o *TranslationOverlay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-o.jobs:
			if err := o.limiter.Wait(ctx); err != nil {
				return nil
			}
			translation, err := o.translate(ctx, job)
			if err != nil {
				o.log.Debug("Translation dropped", "message_id", job.MessageID, "target", job.TargetLanguage, "error", err)
				continue
			}
			o.deliver(job, translation)
		}
	}
}

func (o *TranslationOverlay) translate(ctx context.Context, job domain.TranslationJob) (domain.Translation, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	translation, err := o.translator.Translate(ctx, job.Text, job.SourceLanguage, job.TargetLanguage)
	if err != nil {
		return domain.Translation{}, fmt.Errorf("%w: %v", errors.ErrTranslationUnavailable, err)
	}
	if strings.TrimSpace(translation.Text) == "" {
		return domain.Translation{}, fmt.Errorf("%w: empty translation", errors.ErrTranslationUnavailable)
	}
	if translation.Language == "" {
		translation.Language = job.TargetLanguage
	}
	return translation, nil
}

func (o *TranslationOverlay) deliver(job domain.TranslationJob, translation domain.Translation) {
	o.mu.Lock()
	onResult := o.onResult
	o.mu.Unlock()
	if onResult != nil {
		onResult(job, translation)
	}
}
