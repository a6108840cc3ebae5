// Package pipeline orchestrates one customer query end to end: validation,
// rate limiting, tenant checks, session context, intent detection, knowledge
// retrieval, prompt assembly, generation, and response post-processing, with
// usage accounting and analytics logging at the end. Retrieval and generation
// failures degrade instead of failing the request: the caller always gets a
// non-empty answer unless the input itself was rejected.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helpdeck/helpdeck/internal/analytics"
	"github.com/helpdeck/helpdeck/internal/business"
	"github.com/helpdeck/helpdeck/internal/intent"
	"github.com/helpdeck/helpdeck/internal/knowledge"
	"github.com/helpdeck/helpdeck/internal/llm"
	"github.com/helpdeck/helpdeck/internal/prompt"
	"github.com/helpdeck/helpdeck/internal/ratelimit"
	"github.com/helpdeck/helpdeck/internal/respond"
	"github.com/helpdeck/helpdeck/internal/security"
	"github.com/helpdeck/helpdeck/internal/session"
	"github.com/helpdeck/helpdeck/internal/usage"
)

// DefaultQueryTimeout bounds one query end to end. Requests that exceed it
// fail with CodeProcessingTimeout rather than a generic error.
const DefaultQueryTimeout = 5 * time.Second

// Code identifies why a request was rejected. Codes map to HTTP statuses
// at the API layer.
type Code string

const (
	CodeInvalidQuery      Code = "INVALID_QUERY"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeQuotaExceeded     Code = "QUOTA_EXCEEDED"
	CodeBusinessNotFound  Code = "BUSINESS_NOT_FOUND"
	CodeBusinessSuspended Code = "BUSINESS_SUSPENDED"
	CodeProcessingTimeout Code = "PROCESSING_TIMEOUT"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// Error is a classified pipeline rejection.
type Error struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Request is one customer query.
type Request struct {
	BusinessID   uuid.UUID
	SessionToken string
	CustomerID   string
	Query        string

	// Identifier keys the rate limiter; defaults to the business ID.
	Identifier string
}

// Usage reports what this query cost the tenant.
type Usage struct {
	TokensUsed     int     `json:"tokensUsed"`
	CostEstimate   float64 `json:"costEstimate"`
	RemainingQuota int64   `json:"remainingQuota"`
}

// Metadata describes how the answer was produced.
type Metadata struct {
	ProcessingTimeMs int64  `json:"processingTimeMs"`
	ModelUsed        string `json:"modelUsed"`
	FallbackUsed     bool   `json:"fallbackUsed"`
}

// Response is the full result of one processed query.
type Response struct {
	Answer   respond.Processed
	Intent   intent.Result
	Session  *session.Session
	Usage    Usage
	Metadata Metadata
}

// Stores groups the persistence dependencies.
type Stores struct {
	Businesses *business.Store
	Sessions   *session.Store
	Knowledge  *knowledge.Store
	Usage      *usage.Tracker
	Analytics  *analytics.Logger
}

// Config tunes the pipeline.
type Config struct {
	QueryTimeout   time.Duration
	MaxQueryLength int
	RateLimit      int
	RateWindow     time.Duration
	HistoryLimit   int

	// Retrieval tuning. Zero values fall back to the knowledge
	// package defaults.
	SimilarityThreshold float64
	MaxResults          int
}

func (c Config) withDefaults() Config {
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.MaxQueryLength <= 0 {
		c.MaxQueryLength = security.DefaultMaxQueryLength
	}
	if c.RateLimit <= 0 {
		c.RateLimit = ratelimit.DefaultLimit
	}
	if c.RateWindow <= 0 {
		c.RateWindow = ratelimit.DefaultWindow
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = session.DefaultHistoryLimit
	}
	return c
}

// Pipeline processes queries. Safe for concurrent use.
type Pipeline struct {
	cfg       Config
	validator *security.QueryValidator
	limiter   *ratelimit.Limiter
	detector  *intent.Detector
	generator *llm.Generator
	stores    Stores
	logger    *slog.Logger
}

func New(cfg Config, generator *llm.Generator, stores Stores, logger *slog.Logger) (*Pipeline, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if stores.Businesses == nil || stores.Sessions == nil || stores.Knowledge == nil {
		return nil, fmt.Errorf("business, session and knowledge stores are required")
	}
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:       cfg,
		validator: security.NewQueryValidator(cfg.MaxQueryLength),
		limiter:   ratelimit.New(cfg.RateLimit, cfg.RateWindow),
		detector:  intent.NewDetector(),
		generator: generator,
		stores:    stores,
		logger:    logger,
	}, nil
}

// Process runs one query to completion.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Response, error) {
	return p.run(ctx, req, nil)
}

// ProcessStream runs one query, forwarding generated text chunks to cb as
// they arrive. The fallback path delivers its fixed text as a single chunk
// so streaming clients still render an answer.
func (p *Pipeline) ProcessStream(ctx context.Context, req Request, cb llm.StreamFunc) (*Response, error) {
	if cb == nil {
		return nil, fmt.Errorf("stream callback is required")
	}
	return p.run(ctx, req, cb)
}

func (p *Pipeline) run(ctx context.Context, req Request, cb llm.StreamFunc) (*Response, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	// Input validation happens before anything else touches the query; an
	// empty or malicious query never reaches the model.
	vr := p.validator.Validate(req.Query)
	if !vr.Valid {
		rej := &Error{Code: CodeInvalidQuery, Message: strings.Join(vr.Errors, "; ")}
		p.logRejected(req, vr.Sanitized, time.Since(start), rej)
		return nil, rej
	}
	query := vr.Sanitized

	identifier := req.Identifier
	if identifier == "" {
		identifier = req.BusinessID.String()
	}
	if d := p.limiter.Check(identifier); !d.Allowed {
		rej := &Error{
			Code:       CodeRateLimited,
			Message:    "rate limit exceeded",
			RetryAfter: d.RetryAfter,
		}
		p.logRejected(req, query, time.Since(start), rej)
		return nil, rej
	}

	biz, err := p.stores.Businesses.Authorize(ctx, req.BusinessID)
	if err != nil {
		return nil, p.classify(ctx, err)
	}

	sess, _, err := p.stores.Sessions.GetOrCreate(ctx, biz.ID, req.SessionToken, req.CustomerID)
	if err != nil {
		return nil, p.classify(ctx, err)
	}
	convo, err := p.stores.Sessions.BuildContext(ctx, sess, p.cfg.HistoryLimit)
	if err != nil {
		return nil, p.classify(ctx, err)
	}

	// Resolve follow-ups ("how much is it?") against the conversation so
	// intent detection and retrieval see a self-contained question.
	if resolved, ok := session.ResolveFollowUp(query, convo.Summary); ok {
		p.logger.Debug("resolved follow-up", "original", query, "resolved", resolved)
		query = resolved
	}

	det := p.detector.Detect(query, intent.Context{ActiveIntent: sess.IntentContext.ActiveIntent})

	results := p.retrieve(ctx, biz.ID, query, det.Intent)

	pr := prompt.Build(biz, results, convo, query)
	if err := prompt.Validate(pr, prompt.DefaultMaxTokens); err != nil {
		// Oversized context: retry with the retrieval and history dropped
		// rather than failing the query.
		p.logger.Warn("prompt over budget, degrading", "error", err, "business_id", biz.ID)
		pr = prompt.Build(biz, nil, &session.Context{Session: sess}, query)
		if err := prompt.Validate(pr, prompt.DefaultMaxTokens); err != nil {
			return nil, &Error{Code: CodeInvalidQuery, Message: "query too large to process"}
		}
	}

	reply, genErr := p.generate(ctx, biz.ID, pr, cb)
	if genErr != nil {
		if err := p.reject(ctx, genErr); err != nil {
			p.log(req, query, det, results, nil, 0, time.Since(start), err)
			return nil, err
		}
		// Degraded: serve the scripted fallback instead of an error.
		p.logger.Warn("generation failed, serving fallback", "error", genErr, "business_id", biz.ID)
		reply = llm.Fallback()
		if cb != nil {
			if cbErr := cb(ctx, reply.Text); cbErr != nil {
				return nil, p.classify(ctx, cbErr)
			}
		}
	}

	answer := respond.Process(reply, results, det, biz)

	p.persist(ctx, sess, req.Query, answer.Text, convo, det)
	p.account(ctx, biz.ID)
	elapsed := time.Since(start)
	p.log(req, query, det, results, &answer, reply.TokensUsed, elapsed, genErr)

	resp := &Response{
		Answer:  answer,
		Intent:  det,
		Session: sess,
		Usage: Usage{
			TokensUsed:   reply.TokensUsed,
			CostEstimate: reply.CostEstimate,
		},
		Metadata: Metadata{
			ProcessingTimeMs: elapsed.Milliseconds(),
			ModelUsed:        reply.Model,
			FallbackUsed:     reply.Model == llm.FallbackModel,
		},
	}
	if p.stores.Usage != nil {
		if q, err := p.stores.Usage.Quota(ctx, biz.ID, usage.QuotaQuery); err == nil {
			resp.Usage.RemainingQuota = q.Remaining
		}
	}
	return resp, nil
}

// retrieve searches the knowledge base, narrowing by content type when the
// intent implies one. Retrieval failures degrade to an empty context.
func (p *Pipeline) retrieve(ctx context.Context, businessID uuid.UUID, query string, in intent.Intent) []knowledge.Result {
	req := knowledge.SearchRequest{
		Query:     query,
		Limit:     p.cfg.MaxResults,
		Threshold: p.cfg.SimilarityThreshold,
	}
	switch in {
	case intent.MenuInquiry, intent.DietaryRestriction:
		req.ContentType = knowledge.ContentTypeMenu
	case intent.HoursPolicy:
		req.ContentType = knowledge.ContentTypePolicy
	}

	results, err := p.stores.Knowledge.Search(ctx, businessID, req)
	if err != nil {
		p.logger.Warn("knowledge retrieval failed, continuing without context",
			"error", err, "business_id", businessID)
		return nil
	}
	return results
}

// generate invokes the model, streaming when cb is non-nil.
func (p *Pipeline) generate(ctx context.Context, businessID uuid.UUID, pr prompt.Prompt, cb llm.StreamFunc) (*llm.Reply, error) {
	if cb != nil {
		return p.generator.GenerateStream(ctx, businessID, pr, cb)
	}
	return p.generator.Generate(ctx, businessID, pr)
}

// reject decides whether a generation error is a hard rejection (quota,
// timeout) or one the fallback should absorb. A nil return means "fall
// back".
func (p *Pipeline) reject(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, llm.ErrQuotaExceeded):
		return &Error{Code: CodeQuotaExceeded, Message: "monthly query quota exhausted"}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Code: CodeProcessingTimeout, Message: "query processing timed out"}
	case ctx.Err() != nil:
		// Client walked away mid-request; no point in a fallback answer.
		return &Error{Code: CodeInternal, Message: "request canceled"}
	}
	return nil
}

// persist appends the exchange to the session. Failures are logged, not
// returned: the answer is already produced and losing one history turn is
// preferable to erroring the whole request.
func (p *Pipeline) persist(ctx context.Context, sess *session.Session, userMsg, assistantMsg string, convo *session.Context, det intent.Result) {
	summary := summarize(convo, userMsg)
	ic := sess.IntentContext
	if det.ShouldPersist {
		ic = ic.Advance(det.Intent, time.Now())
	}
	if err := p.stores.Sessions.AppendExchange(ctx, sess.ID, userMsg, assistantMsg, summary, ic); err != nil {
		p.logger.Error("persisting exchange failed", "error", err, "session_id", sess.ID)
	}
}

// summarize produces the short free-text session summary stored alongside
// the conversation.
func summarize(convo *session.Context, latest string) string {
	topics := convo.Summary.Topics
	if len(topics) == 0 {
		return "Last question: " + truncate(latest, 120)
	}
	return "Topics: " + strings.Join(topics, ", ") + ". Last question: " + truncate(latest, 120)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// account records quota consumption for this query.
func (p *Pipeline) account(ctx context.Context, businessID uuid.UUID) {
	if p.stores.Usage == nil {
		return
	}
	if err := p.stores.Usage.Record(ctx, businessID, usage.QuotaQuery, 1); err != nil {
		p.logger.Error("recording usage failed", "error", err, "business_id", businessID)
	}
}

// logRejected audits requests turned away before any store or model work,
// so rate-limited and invalid queries appear in the query log like every
// other outcome.
func (p *Pipeline) logRejected(req Request, query string, elapsed time.Duration, rej *Error) {
	p.log(req, query, intent.Result{Intent: intent.Unknown}, nil, nil, 0, elapsed, rej)
}

// log hands the query record to analytics. Fire and forget.
func (p *Pipeline) log(req Request, query string, det intent.Result, results []knowledge.Result, answer *respond.Processed, tokens int, elapsed time.Duration, genErr error) {
	if p.stores.Analytics == nil {
		return
	}

	e := analytics.Entry{
		BusinessID:     req.BusinessID,
		SessionToken:   req.SessionToken,
		QueryText:      query,
		Intent:         string(det.Intent),
		ProcessingTime: int(elapsed.Milliseconds()),
		TokensUsed:     tokens,
		Status:         analytics.StatusSuccess,
	}
	for _, r := range results {
		e.Context = append(e.Context, r.ContentID)
	}
	if answer != nil {
		e.ResponseText = answer.Text
		e.Confidence = answer.Confidence
	}
	if genErr != nil {
		e.Status = analytics.StatusError
		e.ErrorMessage = genErr.Error()
	}
	var perr *Error
	if errors.As(genErr, &perr) {
		switch perr.Code {
		case CodeProcessingTimeout:
			e.Status = analytics.StatusTimeout
		case CodeRateLimited:
			e.Status = analytics.StatusRateLimited
		}
	}
	p.stores.Analytics.Log(e)
}

// classify maps lower-layer errors to pipeline codes.
func (p *Pipeline) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, business.ErrNotFound), errors.Is(err, business.ErrDeleted):
		return &Error{Code: CodeBusinessNotFound, Message: "business not found"}
	case errors.Is(err, business.ErrSuspended):
		return &Error{Code: CodeBusinessSuspended, Message: "business account is suspended"}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Code: CodeProcessingTimeout, Message: "query processing timed out"}
	case ctx.Err() != nil:
		return &Error{Code: CodeInternal, Message: "request canceled"}
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}
