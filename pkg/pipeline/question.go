package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/duynguyendang/lexa/pkg/common/errors"
	"github.com/duynguyendang/lexa/pkg/events"
)

const (
	stageQuestion = "question"

	// StatusProcessingQuestion is reported while an answer is being generated.
	StatusProcessingQuestion = "processing_question"
)

type QuestionAck struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// AskQuestion schedules an answer grounded in the session's text. The answer
// arrives as a question_answered event. All validation happens before return.
func (o *Orchestrator) AskQuestion(ctx context.Context, id, question, language string) (QuestionAck, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return QuestionAck{}, errors.Validation("question is required")
	}

	sess, ok, err := o.store.Get(ctx, id)
	if err != nil {
		return QuestionAck{}, err
	}
	if !ok {
		return QuestionAck{}, fmt.Errorf("session %s: %w", id, errors.ErrNotFound)
	}
	if sess.ExtractedText == nil {
		return QuestionAck{}, errors.Validation("document text not extracted")
	}

	text := *sess.ExtractedText
	started := o.spawn(stageQuestion, id, func(ctx context.Context) {
		o.answer(ctx, id, text, question, language)
	}, func(err error) {
		o.publish(events.Failure(id, err))
	})
	if !started {
		return QuestionAck{}, errShuttingDown
	}
	return QuestionAck{SessionID: id, Status: StatusProcessingQuestion}, nil
}

func (o *Orchestrator) answer(ctx context.Context, id, text, question, language string) {
	start := time.Now()
	answer, err := o.analyzer.AnswerQuestion(ctx, text, question, language)
	o.metrics.ObserveStage(stageQuestion, time.Since(start), err)
	if err != nil {
		o.log.Warn("question answering failed", zap.String("session_id", id), zap.Error(err))
		o.publish(events.Failure(id, err))
		return
	}

	e := events.New(id, events.StageQuestionAnswered, 100)
	e.Question = question
	e.Answer = answer
	o.publish(e)
}
