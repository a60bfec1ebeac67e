// Package orchestrator turns chat intents into relay jobs and reconciles
// their placeholders in the conversation store.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/acet/internal/api"
	"github.com/xaenox/acet/internal/conversation"
	"github.com/xaenox/acet/internal/models"
	"github.com/xaenox/acet/internal/typing"
)

const (
	DefaultModel           = "SD 1.5"
	DefaultPollInterval    = time.Second
	DefaultNominalDuration = 30 * time.Second
	DefaultRemixStrength   = 0.7
	RemixCount             = 4

	// Estimated progress stops here until the job settles.
	estimateCeiling = 95
	// Consecutive missing-record polls after which the relay is assumed to
	// keep no record for the job.
	maxMissedPolls = 30
	errorBuffer    = 16
)

var (
	ErrNoFilename       = errors.New("no filename in image url")
	ErrNoSourceMessage  = errors.New("source message not found")
	ErrNoGenerationData = errors.New("message has no generation metadata")
	ErrClosed           = errors.New("orchestrator closed")
)

// Banner texts. Details go to the log only.
const (
	msgInterpretFailed = "Sorry, I couldn't get a response. Please try again."
	msgGenerateFailed  = "Sorry, image generation failed. Use rerun to try again."
	msgRemixFailed     = "Sorry, remixing the image failed. Please try again."
	msgUpscaleFailed   = "Sorry, upscaling the image failed. Please try again."
)

type Config struct {
	Model           string
	PollInterval    time.Duration
	NominalDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.NominalDuration <= 0 {
		c.NominalDuration = DefaultNominalDuration
	}
	return c
}

// Orchestrator runs send, rerun, remix and upscale jobs against one store.
type Orchestrator struct {
	store  *conversation.Store
	typist *typing.Engine
	relay  api.Relay
	cfg    Config
	logger *zap.Logger

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	active    map[string]uint64
	nextToken uint64
	closed    bool

	errMu  sync.Mutex
	banner string
	errs   chan string
}

func New(store *conversation.Store, typist *typing.Engine, relay api.Relay, cfg Config, logger *zap.Logger) *Orchestrator {
	root, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:  store,
		typist: typist,
		relay:  relay,
		cfg:    cfg.withDefaults(),
		logger: logger,
		root:   root,
		cancel: cancel,
		active: make(map[string]uint64),
		errs:   make(chan string, errorBuffer),
	}
}

// job is one unit of work. It may touch the store only while the registry
// maps the placeholder it owns to its token.
type job struct {
	kind        string
	token       uint64
	placeholder string
	ctx         context.Context
	cancel      context.CancelFunc
}

// begin registers a job owning placeholder. The job context ends when the
// orchestrator closes or ctx is cancelled.
func (o *Orchestrator) begin(ctx context.Context, kind, placeholder string) (*job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}

	jobCtx, cancel := context.WithCancel(o.root)
	stop := context.AfterFunc(ctx, cancel)

	o.nextToken++
	j := &job{
		kind:        kind,
		token:       o.nextToken,
		placeholder: placeholder,
		ctx:         jobCtx,
		cancel: func() {
			stop()
			cancel()
		},
	}
	o.active[placeholder] = j.token
	o.wg.Add(1)
	return j, nil
}

// owns runs fn under the registry lock if j still holds its token and
// reports whether it ran.
func (o *Orchestrator) owns(j *job, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[j.placeholder] != j.token {
		return false
	}
	fn()
	return true
}

// rebind moves j onto a new placeholder under a fresh token.
func (o *Orchestrator) rebind(j *job, placeholder string, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[j.placeholder] != j.token {
		return false
	}
	delete(o.active, j.placeholder)
	o.nextToken++
	j.token = o.nextToken
	j.placeholder = placeholder
	o.active[placeholder] = j.token
	fn()
	return true
}

func (o *Orchestrator) release(j *job) {
	o.mu.Lock()
	if o.active[j.placeholder] == j.token {
		delete(o.active, j.placeholder)
	}
	o.mu.Unlock()
	j.cancel()
	o.wg.Done()
}

// Active returns the number of registered jobs.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Errors streams user-visible failure texts. Texts are dropped when nobody
// drains the channel; Banner always holds the latest.
func (o *Orchestrator) Errors() <-chan string {
	return o.errs
}

// Banner returns the current undismissed error text.
func (o *Orchestrator) Banner() string {
	o.errMu.Lock()
	defer o.errMu.Unlock()
	return o.banner
}

func (o *Orchestrator) DismissError() {
	o.errMu.Lock()
	o.banner = ""
	o.errMu.Unlock()
}

func (o *Orchestrator) surface(text string) {
	o.errMu.Lock()
	o.banner = text
	o.errMu.Unlock()
	select {
	case o.errs <- text:
	default:
	}
}

// Close cancels every in-flight job and waits for them to return. Results
// arriving afterwards are dropped.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.active = make(map[string]uint64)
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
}

// Wait blocks until every started job has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Send posts text with optional attachments and starts the interpretation
// job. It returns the id of the user message.
func (o *Orchestrator) Send(ctx context.Context, text string, files []models.Attachment) (string, error) {
	history := conversation.History(o.store.Snapshot())

	userID := o.store.NewID(models.RoleUser)
	loadingID := o.store.NewID(models.RoleAssistant)

	j, err := o.begin(ctx, "send", loadingID)
	if err != nil {
		return "", err
	}

	if err := o.store.Append(models.Message{
		ID:      userID,
		Content: text,
		Kind:    models.KindText,
		IsUser:  true,
		Files:   files,
	}); err != nil {
		o.release(j)
		return "", fmt.Errorf("append user message: %w", err)
	}
	if err := o.store.Append(models.Message{ID: loadingID, Kind: models.KindLoading}); err != nil {
		o.release(j)
		return "", fmt.Errorf("append placeholder: %w", err)
	}

	go func() {
		defer o.release(j)
		o.interpret(j, api.InterpretRequest{Text: text, Images: imageFiles(files), History: history})
	}()
	return userID, nil
}

// Rerun sends the text and files of a prior user message again.
func (o *Orchestrator) Rerun(ctx context.Context, messageID string) (string, error) {
	msg, ok := o.store.Get(messageID)
	if !ok || !msg.IsUser {
		return "", fmt.Errorf("%w: %s", ErrNoSourceMessage, messageID)
	}
	return o.Send(ctx, msg.Content, msg.Files)
}

func (o *Orchestrator) interpret(j *job, req api.InterpretRequest) {
	resp, err := o.relay.Interpret(j.ctx, req)
	if err != nil {
		o.fail(j, msgInterpretFailed, err)
		return
	}

	replyID := o.store.NewID(models.RoleAssistant)
	var playback *typing.Playback
	var playErr error
	ok := o.owns(j, func() {
		o.store.RemoveWhere(conversation.ByID(j.placeholder))
		playback, playErr = o.typist.Play(j.ctx, resp.Text(), replyID, nil)
	})
	if !ok {
		return
	}
	if playErr != nil {
		o.logger.Error("Failed to start playback", zap.Error(playErr), zap.String("message_id", replyID))
		o.surface(msgInterpretFailed)
		return
	}
	if !playback.Wait() || !resp.IsGeneration() {
		return
	}

	genID := o.store.NewID(models.RoleAssistant)
	ok = o.rebind(j, genID, func() {
		_ = o.store.Append(models.Message{ID: genID, Kind: models.KindGeneratingImage})
	})
	if !ok {
		return
	}

	count := resp.NumImages
	if count < 1 {
		count = 1
	}
	if resp.Type == api.TypeImageToImage && len(req.Images) > 0 {
		o.editAttachment(j, req.Text, req.Images[0], count)
		return
	}
	// Without an attachment an edit request is generated from text alone.
	gen := api.GenerateRequest{
		Prompt:    req.Text,
		Model:     o.cfg.Model,
		NumImages: count,
	}
	o.runImageJob(j, msgGenerateFailed, func(ctx context.Context, jobID string) (updater, error) {
		res, err := o.relay.GenerateImage(ctx, gen, jobID)
		if err != nil {
			return nil, err
		}
		data := res.Data()
		if data == nil {
			data = &models.GenerationData{Prompt: gen.Prompt, Model: gen.Model}
		}
		return imageSet(res.ImageURLs, data, nil), nil
	})
}

// editAttachment remixes the user's uploaded image, sent inline as a data
// URL, into the job's generating-image placeholder.
func (o *Orchestrator) editAttachment(j *job, prompt string, src models.Attachment, count int) {
	req := api.RemixRequest{
		ImageURL:  DataURL(src),
		Prompt:    prompt,
		Model:     o.cfg.Model,
		NumImages: count,
		Strength:  DefaultRemixStrength,
	}
	o.runImageJob(j, msgRemixFailed, func(ctx context.Context, jobID string) (updater, error) {
		res, err := o.relay.RemixImage(ctx, req, jobID)
		if err != nil {
			return nil, err
		}
		data := res.Data()
		if data == nil {
			data = &models.GenerationData{Prompt: prompt, Model: req.Model, Strength: req.Strength}
		}
		data.SourceImage = src.Name
		return imageSet(res.ImageURLs, data, nil), nil
	})
}

// DataURL encodes an attachment as a base64 data URL.
func DataURL(a models.Attachment) string {
	contentType := a.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(a.Data)
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

// Remix asks for RemixCount variations of an image from a generated set.
// A strength of zero selects DefaultRemixStrength.
func (o *Orchestrator) Remix(ctx context.Context, messageID, imageURL string, strength float64) (string, error) {
	src, ok := o.store.Get(messageID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoSourceMessage, messageID)
	}
	if src.GenerationData == nil {
		return "", fmt.Errorf("%w: %s", ErrNoGenerationData, messageID)
	}
	if strength <= 0 {
		strength = DefaultRemixStrength
	}

	gd := src.GenerationData.Clone()
	req := api.RemixRequest{
		ImageURL:           imageURL,
		Prompt:             gd.Prompt,
		NegativePrompt:     gd.NegativePrompt,
		Model:              gd.Model,
		AdditionalNetworks: gd.Loras,
		NumImages:          RemixCount,
		Strength:           strength,
	}
	if req.Model == "" {
		req.Model = o.cfg.Model
	}

	j, err := o.startImageJob(ctx, "remix", fmt.Sprintf("Remix this image (strength %.1f)", strength), []string{imageURL})
	if err != nil {
		return "", err
	}
	go func() {
		defer o.release(j)
		o.runImageJob(j, msgRemixFailed, func(ctx context.Context, jobID string) (updater, error) {
			res, err := o.relay.RemixImage(ctx, req, jobID)
			if err != nil {
				return nil, err
			}
			data := res.Data()
			if data == nil {
				data = &models.GenerationData{Prompt: req.Prompt, Model: req.Model, Loras: req.AdditionalNetworks, Strength: strength, SourceImage: imageURL}
			}
			return imageSet(res.ImageURLs, data, nil), nil
		})
	}()
	return j.placeholder, nil
}

// Upscale enlarges one image of a generated set. Zero options select
// api.DefaultUpscale.
func (o *Orchestrator) Upscale(ctx context.Context, messageID, imageURL string, opts api.UpscaleRequest) (string, error) {
	src, _ := o.store.Get(messageID)
	if opts.ScaleFactor == 0 && opts.Upscaler == "" {
		defaults := api.DefaultUpscale()
		defaults.EnhanceFaces = opts.EnhanceFaces
		defaults.PreserveOriginalSize = opts.PreserveOriginalSize
		opts = defaults
	}

	j, err := o.startImageJob(ctx, "upscale", fmt.Sprintf("Upscale this image %gx", opts.ScaleFactor), []string{imageURL})
	if err != nil {
		return "", err
	}
	go func() {
		defer o.release(j)
		o.runImageJob(j, msgUpscaleFailed, func(ctx context.Context, jobID string) (updater, error) {
			filename, err := Filename(imageURL)
			if err != nil {
				return nil, err
			}
			rd, err := o.relay.UpscaleImage(ctx, filename, opts, jobID)
			if err != nil {
				return nil, err
			}
			return imageSet([]string{rd.URL}, src.GenerationData, rd), nil
		})
	}()
	return j.placeholder, nil
}

// startImageJob appends the user-facing request and a generating-image
// placeholder owned by a new job.
func (o *Orchestrator) startImageJob(ctx context.Context, kind, request string, sources []string) (*job, error) {
	userID := o.store.NewID(models.RoleUser)
	genID := o.store.NewID(models.RoleAssistant)

	j, err := o.begin(ctx, kind, genID)
	if err != nil {
		return nil, err
	}
	if err := o.store.Append(models.Message{
		ID:        userID,
		Content:   request,
		Kind:      models.KindText,
		IsUser:    true,
		ImageURLs: sources,
	}); err != nil {
		o.release(j)
		return nil, fmt.Errorf("append user message: %w", err)
	}
	if err := o.store.Append(models.Message{ID: genID, Kind: models.KindGeneratingImage}); err != nil {
		o.release(j)
		return nil, fmt.Errorf("append placeholder: %w", err)
	}
	return j, nil
}

type updater = conversation.Updater

func imageSet(urls []string, data *models.GenerationData, resize *models.ResizeData) updater {
	return func(m models.Message) models.Message {
		m.Kind = models.KindGeneratedImage
		m.ImageURLs = append([]string(nil), urls...)
		m.GenerationData = data
		m.ResizeData = resize
		m.Progress = 100
		m.ProgressEstimated = false
		return m
	}
}

// runImageJob drives one generation-class call while tracking progress in
// the job's placeholder, then converts or removes the placeholder.
func (o *Orchestrator) runImageJob(j *job, failText string, call func(ctx context.Context, jobID string) (updater, error)) {
	jobID := newJobID()

	trackCtx, stopTracking := context.WithCancel(j.ctx)
	tracked := make(chan struct{})
	go func() {
		defer close(tracked)
		o.trackProgress(trackCtx, j, jobID)
	}()

	update, err := call(j.ctx, jobID)
	stopTracking()
	<-tracked

	if err != nil {
		o.fail(j, failText, err)
		return
	}
	o.owns(j, func() {
		o.store.ReplaceWhere(conversation.ByID(j.placeholder), update)
	})
}

// trackProgress polls the relay's job record each interval. Until the
// relay reports a record, progress is estimated toward estimateCeiling over
// the nominal duration and flagged as such. Polling stops after
// maxMissedPolls consecutive misses.
func (o *Orchestrator) trackProgress(ctx context.Context, j *job, jobID string) {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	started := time.Now()
	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		progress, estimated := 0, true
		if missed < maxMissedPolls {
			status, err := o.relay.JobStatus(ctx, jobID)
			switch {
			case err == nil:
				progress, estimated = min(status.Progress, 99), false
				missed = 0
			case errors.Is(err, api.ErrNotFound):
				missed++
			case ctx.Err() != nil:
				return
			default:
				o.logger.Debug("Failed to poll job status", zap.Error(err), zap.String("job_id", jobID))
			}
		}
		if estimated {
			progress = estimate(time.Since(started), o.cfg.NominalDuration)
		}

		o.owns(j, func() {
			o.store.ReplaceWhere(conversation.ByID(j.placeholder), func(m models.Message) models.Message {
				if m.Kind != models.KindGeneratingImage {
					return m
				}
				// Reported progress replaces an estimate; within one source it only grows.
				if progress < m.Progress && estimated == m.ProgressEstimated {
					return m
				}
				if estimated && !m.ProgressEstimated && m.Progress > 0 {
					return m
				}
				m.Progress = progress
				m.ProgressEstimated = estimated
				return m
			})
		})
	}
}

func estimate(elapsed, nominal time.Duration) int {
	p := int(float64(estimateCeiling) * float64(elapsed) / float64(nominal))
	return min(max(p, 0), estimateCeiling)
}

// fail removes the job's placeholder and surfaces text. Jobs cancelled by
// Close or by their caller settle silently.
func (o *Orchestrator) fail(j *job, text string, err error) {
	cancelled := j.ctx.Err() != nil
	removed := o.owns(j, func() {
		o.store.RemoveWhere(conversation.ByID(j.placeholder))
	})
	if cancelled {
		o.logger.Info("Job cancelled", zap.String("kind", j.kind), zap.String("placeholder_id", j.placeholder))
		return
	}
	o.logger.Error("Failed to complete job",
		zap.Error(err),
		zap.String("kind", j.kind),
		zap.String("placeholder_id", j.placeholder))
	if removed {
		o.surface(text)
	}
}

func newJobID() string {
	return uuid.NewString()
}

func imageFiles(files []models.Attachment) []models.Attachment {
	var out []models.Attachment
	for _, f := range files {
		if f.ContentType == "" || strings.HasPrefix(f.ContentType, "image/") {
			out = append(out, f)
		}
	}
	return out
}

// Filename returns the last path segment of an image URL.
func Filename(imageURL string) (string, error) {
	u, err := url.Parse(imageURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoFilename, err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return "", fmt.Errorf("%w: %q", ErrNoFilename, imageURL)
	}
	return name, nil
}

// ParseImageArgs reads "[N] [value]" where N picks an image of a set of
// count, 1-based. It returns the 0-based index and the value, zero when
// absent.
func ParseImageArgs(args string, count int) (int, float64, error) {
	fields := strings.Fields(args)
	index := 0
	if len(fields) > 0 {
		n, err := strconv.Atoi(fields[0])
		if err != nil || n < 1 || n > count {
			return 0, 0, fmt.Errorf("image number must be between 1 and %d", count)
		}
		index = n - 1
	}
	var value float64
	if len(fields) > 1 {
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || v <= 0 {
			return 0, 0, fmt.Errorf("%q is not a positive number", fields[1])
		}
		value = v
	}
	return index, value, nil
}
