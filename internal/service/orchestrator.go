package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/IzzulGod/Sorachio-Chat-v2/internal/chaterr"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/completion"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/conversation"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/imageproc"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/metrics"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/model"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/storage"
	"github.com/IzzulGod/Sorachio-Chat-v2/pkg/logger"
)

// State is a step of a single send invocation.
type State string

const (
	StateIdle            State = "idle"
	StateSubmitting      State = "submitting"
	StateImageProcessing State = "image_processing"
	StateRequesting      State = "requesting"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// ImageProcessor turns raw upload bytes into a JPEG data URL.
type ImageProcessor interface {
	Process(ctx context.Context, data []byte) (string, error)
}

var _ ImageProcessor = (*imageproc.Preprocessor)(nil)

type SendInput struct {
	ChatID string
	Text   string
	Image  []byte
}

// SendResult describes how a send ended. On failure UserMessage is still set
// because the user turn is never rolled back.
type SendResult struct {
	State            State               `json:"state"`
	UserMessage      *model.Message      `json:"user_message,omitempty"`
	AssistantMessage *model.Message      `json:"assistant_message,omitempty"`
	Notification     *model.Notification `json:"notification,omitempty"`
	ErrorKind        chaterr.Kind        `json:"error_kind,omitempty"`
	Chat             *model.Chat         `json:"chat,omitempty"`
}

type OrchestratorOptions struct {
	Store     storage.Storage
	Images    ImageProcessor
	Assembler *conversation.Assembler
	Completer completion.Completer
	Model     completion.ModelConfig
	Notifier  Notifier

	// SerializeSends queues sends per chat so user/assistant pairs never interleave.
	SerializeSends bool

	// OnTransition, when set, observes every state change.
	OnTransition func(chatID string, state State)
}

type Orchestrator struct {
	store          storage.Storage
	images         ImageProcessor
	assembler      *conversation.Assembler
	completer      completion.Completer
	model          completion.ModelConfig
	notifier       Notifier
	serializeSends bool
	onTransition   func(chatID string, state State)

	loading atomic.Bool
	locks   sync.Map // chat id -> *sync.Mutex
	now     func() time.Time
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	o := &Orchestrator{
		store:          opts.Store,
		images:         opts.Images,
		assembler:      opts.Assembler,
		completer:      opts.Completer,
		model:          opts.Model,
		notifier:       opts.Notifier,
		serializeSends: opts.SerializeSends,
		onTransition:   opts.OnTransition,
		now:            time.Now,
	}
	if o.images == nil {
		o.images = imageproc.New(imageproc.Options{})
	}
	if o.assembler == nil {
		o.assembler = conversation.NewAssembler("")
	}
	if o.notifier == nil {
		o.notifier = LogNotifier{}
	}
	return o
}

// IsLoading mirrors the single shared loading flag: it is set when a send
// starts and cleared when any send finishes.
func (o *Orchestrator) IsLoading() bool {
	return o.loading.Load()
}

// Send runs one message through preprocessing, assembly, completion and the
// store. Pipeline failures are reported in the result and through the
// notifier; the only returned errors are storage.ErrChatNotFound and
// invalid input to the orchestrator itself.
func (o *Orchestrator) Send(ctx context.Context, in SendInput) (*SendResult, error) {
	if strings.TrimSpace(in.Text) == "" && len(in.Image) == 0 {
		metrics.SendsTotal.WithLabelValues("noop", string(chaterr.KindValidationNoop)).Inc()
		return &SendResult{State: StateIdle, ErrorKind: chaterr.KindValidationNoop}, nil
	}
	if in.ChatID == "" {
		return nil, fmt.Errorf("%w: chat id is required", storage.ErrChatNotFound)
	}

	if o.serializeSends {
		mu := o.chatLock(in.ChatID)
		mu.Lock()
		defer mu.Unlock()
	}

	chat, err := o.store.GetChat(in.ChatID)
	if err != nil {
		return nil, fmt.Errorf("send to chat %s: %w", in.ChatID, err)
	}
	prior := chat.Messages

	start := o.now()
	hasImage := len(in.Image) > 0
	log := logger.WithFields(logger.Fields{"chat_id": in.ChatID, "has_image": hasImage})

	defer o.transition(in.ChatID, StateIdle)
	o.loading.Store(true)
	defer o.loading.Store(false)
	o.transition(in.ChatID, StateSubmitting)

	userMsg := model.Message{
		ID:        newID(),
		Role:      model.RoleUser,
		Content:   in.Text,
		Timestamp: o.now(),
	}
	if hasImage {
		userMsg.Image = imageproc.RawDataURL(in.Image)
	}

	chat, err = o.store.AppendMessage(in.ChatID, userMsg)
	if err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	result := &SendResult{UserMessage: &userMsg, Chat: chat}

	var imageURL string
	if hasImage {
		o.transition(in.ChatID, StateImageProcessing)
		imageURL, err = o.images.Process(ctx, in.Image)
		if err != nil {
			metrics.ImagesProcessed.WithLabelValues("error").Inc()
			return o.fail(ctx, log, result, imageProcessingError(err), start, hasImage), nil
		}
		metrics.ImagesProcessed.WithLabelValues("ok").Inc()
	}

	o.transition(in.ChatID, StateRequesting)
	req := o.assembler.Build(prior, in.Text, imageURL)
	reply, err := o.completer.Complete(ctx, req, o.model)
	if err != nil {
		if chaterr.KindOf(err) == chaterr.KindNone {
			err = chaterr.New(chaterr.KindNetwork, err)
		}
		return o.fail(ctx, log, result, err, start, hasImage), nil
	}

	assistantMsg := model.Message{
		ID:        newID(),
		Role:      model.RoleAssistant,
		Content:   reply,
		Timestamp: o.now(),
	}
	chat, err = o.store.AppendMessage(in.ChatID, assistantMsg)
	if err != nil {
		// The chat was deleted while the request was in flight; the reply has nowhere to go.
		log.WithError(err).Warn("dropping assistant reply")
	} else {
		result.AssistantMessage = &assistantMsg
		result.Chat = chat
	}

	result.State = StateCompleted
	o.transition(in.ChatID, StateCompleted)
	o.observe(result, start, hasImage)
	log.Info("message sent")
	return result, nil
}

func (o *Orchestrator) fail(ctx context.Context, log *logrus.Entry, result *SendResult, err error, start time.Time, hasImage bool) *SendResult {
	kind := chaterr.KindOf(err)
	fields := logger.Fields{"kind": string(kind)}
	var ce *chaterr.Error
	if errors.As(err, &ce) && ce.Status != 0 {
		fields["status"] = ce.Status
		fields["body"] = ce.Body
	}
	log.WithFields(fields).WithError(err).Error("send failed")

	n := NotificationFor(kind)
	o.notifier.Notify(ctx, n)

	result.State = StateFailed
	result.ErrorKind = kind
	result.Notification = &n
	o.transition(result.Chat.ID, StateFailed)
	o.observe(result, start, hasImage)
	return result
}

// imageProcessingError reports every preprocessing failure as one kind; a
// decode error stays reachable as the cause.
func imageProcessingError(err error) error {
	if chaterr.KindOf(err) == chaterr.KindImageProcessing {
		return err
	}
	return chaterr.New(chaterr.KindImageProcessing, err)
}

func (o *Orchestrator) observe(result *SendResult, start time.Time, hasImage bool) {
	metrics.SendsTotal.WithLabelValues(string(result.State), string(result.ErrorKind)).Inc()
	metrics.SendDuration.WithLabelValues(string(result.State), strconv.FormatBool(hasImage)).
		Observe(o.now().Sub(start).Seconds())
}

func (o *Orchestrator) transition(chatID string, state State) {
	logger.Debugf("chat %s: %s", chatID, state)
	if o.onTransition != nil {
		o.onTransition(chatID, state)
	}
}

func (o *Orchestrator) chatLock(chatID string) *sync.Mutex {
	mu, _ := o.locks.LoadOrStore(chatID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Forget drops the per-chat send lock of a deleted chat.
func (o *Orchestrator) Forget(chatID string) {
	o.locks.Delete(chatID)
}

// newID returns a time-ordered UUIDv7, falling back to a random UUID.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
