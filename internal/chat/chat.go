// Package chat orchestrates one question end to end: resolve context
// documents, build the prompt, call the generative model, and record the
// attempt in the query log.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tygr/ragserve/internal/generation"
	"github.com/tygr/ragserve/internal/index"
	"github.com/tygr/ragserve/internal/logging"
	"github.com/tygr/ragserve/internal/models"
	"github.com/tygr/ragserve/internal/querylog"
)

// DefaultSystemPrompt frames the model as a document-grounded assistant
const DefaultSystemPrompt = "You are a helpful assistant. Answer using the provided documents. " +
	"If the documents do not contain the answer, say so instead of guessing."

// DocumentSource is the slice of the document index needed for chat
type DocumentSource interface {
	Search(ctx context.Context, query string, topK *int, threshold float64) ([]index.ScoredDocument, error)
	Get(ctx context.Context, geminiFileName string) (*models.Document, error)
}

// Generator is the slice of the generation client needed for chat
type Generator interface {
	KnownModel(ctx context.Context, name string) (bool, error)
	Generate(ctx context.Context, req *generation.Request) (*generation.Completion, error)
	Stream(ctx context.Context, req *generation.Request) (<-chan generation.Event, error)
}

// QueryLogger records chat attempts
type QueryLogger interface {
	Log(ctx context.Context, entry *querylog.Entry) (*models.QueryLogEntry, error)
}

// Request is one chat question
type Request struct {
	Query string
	// Model overrides the configured default when non-empty
	Model string
	// SelectedFiles pins the context to specific indexed documents instead
	// of similarity retrieval
	SelectedFiles []string
	// SystemPrompt overrides DefaultSystemPrompt when non-nil
	SystemPrompt *string
	TopK         *int
	Threshold    *float64
}

// RefusalKind classifies why a chat was refused
type RefusalKind string

const (
	RefusalUnknownModel RefusalKind = "unknown_model"
	RefusalNoContext    RefusalKind = "no_context"
	RefusalRateLimited  RefusalKind = "rate_limited"
)

// Result is the outcome of one chat: exactly one of Answer or Refusal
type Result interface {
	isResult()
}

// Answer is a successful chat outcome
type Answer struct {
	Response         string            `json:"response"`
	ModelUsed        string            `json:"model_used"`
	FilesUsed        []string          `json:"files_used"`
	SystemPromptUsed string            `json:"system_prompt_used"`
	Usage            models.TokenUsage `json:"usage"`
}

// Refusal is an expected negative outcome, not an internal error
type Refusal struct {
	Kind    RefusalKind `json:"kind"`
	Message string      `json:"message"`
}

func (*Answer) isResult()  {}
func (*Refusal) isResult() {}

// Options are the retrieval and model defaults applied when a request
// leaves them unset
type Options struct {
	DefaultModel   string
	RetrievalTopK  int
	ScoreThreshold float64
}

// Service orchestrates chat
type Service struct {
	docs      DocumentSource
	generator Generator
	qlog      QueryLogger
	opts      Options
	logger    zerolog.Logger
}

// NewService creates a chat service
func NewService(docs DocumentSource, generator Generator, qlog QueryLogger, opts Options) *Service {
	return &Service{
		docs:      docs,
		generator: generator,
		qlog:      qlog,
		opts:      opts,
		logger:    logging.NewLogger("chat"),
	}
}

// resolved holds everything needed to call the model and log the attempt
type resolved struct {
	model        string
	systemPrompt string
	prompt       string
	files        []string
	explicit     bool
}

// Ask answers one question. Expected negative outcomes come back as a
// Refusal; only infrastructure failures surface as errors. The query log
// write is non-fatal either way.
func (s *Service) Ask(ctx context.Context, req *Request) (Result, error) {
	res, refusal, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	if refusal != nil {
		s.logAttempt(ctx, req, res, nil, refusal.Message)
		return refusal, nil
	}

	completion, err := s.generator.Generate(ctx, &generation.Request{
		Model:        res.model,
		SystemPrompt: res.systemPrompt,
		Prompt:       res.prompt,
	})
	if err != nil {
		if refusal := refusalForGenerationError(err); refusal != nil {
			s.logAttempt(ctx, req, res, nil, refusal.Message)
			return refusal, nil
		}
		s.logAttempt(ctx, req, res, nil, err.Error())
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	s.logAttempt(ctx, req, res, completion, "")

	return &Answer{
		Response:         completion.Text,
		ModelUsed:        res.model,
		FilesUsed:        res.files,
		SystemPromptUsed: res.systemPrompt,
		Usage:            completion.Usage,
	}, nil
}

// AskStream starts a streamed answer. A non-nil Refusal means no stream was
// started. The query log entry is written when the stream finishes.
func (s *Service) AskStream(ctx context.Context, req *Request) (<-chan generation.Event, *Refusal, error) {
	res, refusal, err := s.resolve(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if refusal != nil {
		s.logAttempt(ctx, req, res, nil, refusal.Message)
		return nil, refusal, nil
	}

	upstream, err := s.generator.Stream(ctx, &generation.Request{
		Model:        res.model,
		SystemPrompt: res.systemPrompt,
		Prompt:       res.prompt,
	})
	if err != nil {
		if refusal := refusalForGenerationError(err); refusal != nil {
			s.logAttempt(ctx, req, res, nil, refusal.Message)
			return nil, refusal, nil
		}
		s.logAttempt(ctx, req, res, nil, err.Error())
		return nil, nil, fmt.Errorf("generation failed: %w", err)
	}

	events := make(chan generation.Event)
	go func() {
		defer close(events)
		for ev := range upstream {
			switch e := ev.(type) {
			case generation.Complete:
				s.logAttempt(ctx, req, res, &generation.Completion{Text: e.FullText, Usage: e.Usage}, "")
			case generation.Failure:
				s.logAttempt(ctx, req, res, nil, e.Err.Error())
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil, nil
}

// resolve validates the model and assembles the context documents and
// prompt. A returned refusal carries a partially filled resolved for
// logging.
func (s *Service) resolve(ctx context.Context, req *Request) (*resolved, *Refusal, error) {
	res := &resolved{
		model:        req.Model,
		systemPrompt: DefaultSystemPrompt,
		explicit:     len(req.SelectedFiles) > 0,
	}
	if res.model == "" {
		res.model = s.opts.DefaultModel
	}
	if req.SystemPrompt != nil {
		res.systemPrompt = *req.SystemPrompt
	}

	known, err := s.generator.KnownModel(ctx, res.model)
	if err != nil {
		return res, nil, fmt.Errorf("model catalog unavailable: %w", err)
	}
	if !known {
		return res, &Refusal{
			Kind:    RefusalUnknownModel,
			Message: fmt.Sprintf("model %q is not available", res.model),
		}, nil
	}

	docs, err := s.contextDocuments(ctx, req)
	if err != nil {
		return res, nil, err
	}
	if len(docs) == 0 {
		return res, &Refusal{
			Kind:    RefusalNoContext,
			Message: "no documents matched the query",
		}, nil
	}

	for _, doc := range docs {
		res.files = append(res.files, doc.GeminiFileName)
	}
	res.prompt = buildPrompt(req.Query, docs)
	return res, nil, nil
}

func (s *Service) contextDocuments(ctx context.Context, req *Request) ([]models.Document, error) {
	if len(req.SelectedFiles) > 0 {
		var docs []models.Document
		for _, name := range req.SelectedFiles {
			doc, err := s.docs.Get(ctx, name)
			if err != nil {
				if errors.Is(err, index.ErrNotFound) {
					s.logger.Warn().Str("file", name).Msg("Selected file is not indexed, skipping")
					continue
				}
				return nil, fmt.Errorf("failed to load selected file %s: %w", name, err)
			}
			docs = append(docs, *doc)
		}
		return docs, nil
	}

	topK := s.opts.RetrievalTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	threshold := s.opts.ScoreThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	scored, err := s.docs.Search(ctx, req.Query, &topK, threshold)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	docs := make([]models.Document, 0, len(scored))
	for _, sd := range scored {
		docs = append(docs, sd.Document)
	}
	return docs, nil
}

func buildPrompt(query string, docs []models.Document) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using these documents.\n\n")
	for _, doc := range docs {
		fmt.Fprintf(&sb, "--- %s ---\n%s\n\n", doc.DisplayName, doc.Content)
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	return sb.String()
}

func refusalForGenerationError(err error) *Refusal {
	switch {
	case errors.Is(err, generation.ErrUnknownModel):
		return &Refusal{Kind: RefusalUnknownModel, Message: "model rejected by upstream"}
	case errors.Is(err, generation.ErrRateLimited):
		return &Refusal{Kind: RefusalRateLimited, Message: "generation quota exhausted, try again later"}
	default:
		return nil
	}
}

// logAttempt appends one query log row. Exactly one row per attempt, and a
// failed write never fails the chat.
func (s *Service) logAttempt(ctx context.Context, req *Request, res *resolved, completion *generation.Completion, errMsg string) {
	entry := &querylog.Entry{
		Query:         req.Query,
		ModelUsed:     res.model,
		FilesUsed:     len(res.files),
		SelectedFiles: res.files,
		Success:       errMsg == "",
	}
	if res.systemPrompt != DefaultSystemPrompt {
		entry.SystemPromptUsed = &res.systemPrompt
	}
	if completion != nil {
		length := len(completion.Text)
		entry.ResponseLength = &length
		usage := completion.Usage
		entry.Usage = &usage
	}
	if errMsg != "" {
		entry.ErrorMessage = &errMsg
	}

	if _, err := s.qlog.Log(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Msg("Query log write failed, continuing")
	}
}
