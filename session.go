// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package vrbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/google/uuid"

	"github.com/gogpu/vrbridge/backend"
	_ "github.com/gogpu/vrbridge/backend/software" // registers the CPU backend
	_ "github.com/gogpu/vrbridge/backend/wgpu"     // registers the GPU backend
	"github.com/gogpu/vrbridge/frame"
	"github.com/gogpu/vrbridge/geom"
	"github.com/gogpu/vrbridge/hcr"
	"github.com/gogpu/vrbridge/internal/config"
	"github.com/gogpu/vrbridge/layer"
	"github.com/gogpu/vrbridge/mirror"
	"github.com/gogpu/vrbridge/overlay"
	"github.com/gogpu/vrbridge/result"
	"github.com/gogpu/vrbridge/swapchain"
)

var errSessionClosed = fmt.Errorf("%w: session closed", result.ErrInvalidHandle)

// Session is one application session against a host compositor runtime.
// It owns the frame sequencer, the swapchains, the overlay pool and the
// mirror texture. Sessions are independent; several may be open at once.
type Session struct {
	id          string
	rt          hcr.Runtime
	backend     backend.Backend
	ownsBackend bool
	cfg         config.Config

	chains     *swapchain.Manager
	pool       *overlay.Pool
	seq        *frame.Sequencer
	translator *layer.Translator
	mirror     *mirror.Composer

	mu     sync.Mutex
	masks  map[swapchain.Handle]depthUse
	closed bool
	logger *slog.Logger

	// readers counts frame submissions and mirror updates that may hold
	// swapchain textures. Textures of chains destroyed meanwhile wait in
	// retired until the count drops to zero.
	readers int
	retired []backend.Texture
}

// depthUse records where each eye's depth lives in a depth swapchain, as
// last submitted in an eye-FOV-with-depth layer.
type depthUse struct {
	regions [2]geom.Rect
	eyes    hcr.EyeMask
}

// NewSession opens a session on rt.
func NewSession(rt hcr.Runtime, opts ...Option) (*Session, error) {
	if rt == nil {
		return nil, fmt.Errorf("%w: nil runtime", result.ErrInvalidArgument)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.cfg
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", result.ErrInvalidArgument, err)
	}
	layout, err := mirror.ParseLayout(cfg.Mirror.Layout)
	if err != nil {
		return nil, err
	}

	b, owns := o.backend, false
	if b == nil {
		b, err = backend.ForDevice(o.device, cfg.Backend.Preferred)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", result.ErrInvalidArgument, err)
		}
		owns = true
	}

	logger := o.logger
	if logger == nil {
		logger = Logger()
	}

	s := &Session{
		id:          uuid.New().String(),
		rt:          rt,
		backend:     b,
		ownsBackend: owns,
		cfg:         cfg,
		masks:       make(map[swapchain.Handle]depthUse),
	}
	s.chains = swapchain.NewManager(b, cfg.Swapchain.DefaultLength)
	s.pool = overlay.NewPool(rt, cfg.Overlays.Max)
	s.seq = frame.New(rt, frame.Config{
		WaitTimeout:  cfg.Frame.WaitTimeout,
		InitialDelay: cfg.Frame.Retry.InitialDelay,
		MaxDelay:     cfg.Frame.Retry.MaxDelay,
		Multiplier:   cfg.Frame.Retry.Multiplier,
		MaxAttempts:  cfg.Frame.Retry.MaxAttempts,
	})
	s.translator = layer.NewTranslator(b, rt, s.chains, s.pool)
	c := cfg.Mirror.ClearColor
	s.mirror = mirror.NewComposer(b, rt,
		mirror.WithLayout(layout),
		mirror.WithClearColor(gputypes.Color{R: c[0], G: c[1], B: c[2], A: c[3]}))
	s.SetLogger(logger)

	if cfg.Depth.HiddenAreaMask {
		if dm, ok := b.(backend.DepthMasker); ok {
			dm.SetDepthClearedFunc(s.depthCleared)
		} else {
			s.log().Warn("vrbridge: hidden area mask not supported by backend", "backend", b.Name())
		}
	}

	s.log().Info("vrbridge: session opened",
		"backend", b.Name(),
		"swapchain_length", cfg.Swapchain.DefaultLength,
		"max_overlays", cfg.Overlays.Max,
		"mirror_layout", layout.String())
	return s, nil
}

// ID returns the session identifier used in log records.
func (s *Session) ID() string { return s.id }

// Backend returns the rendering backend the session draws with. The
// application renders into swapchain textures through it.
func (s *Session) Backend() backend.Backend { return s.backend }

// Runtime returns the compositor runtime.
func (s *Session) Runtime() hcr.Runtime { return s.rt }

// SetLogger sets the logger of the session and its components. Records
// carry the session ID. Pass nil to silence the session.
func (s *Session) SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	l = l.With("session", s.id)
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
	propagateLogger(l, s.chains, s.pool, s.seq, s.translator, s.mirror)
	if s.ownsBackend {
		propagateLogger(l, s.backend)
	}
}

func (s *Session) log() *slog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

// check rejects calls on a closed or lost session.
func (s *Session) check() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errSessionClosed
	}
	if s.seq.Lost() {
		return fmt.Errorf("%w: session must be recreated", result.ErrLostDevice)
	}
	return nil
}

// CreateSwapChain allocates a swapchain. A zero Length uses the configured
// default.
func (s *Session) CreateSwapChain(desc swapchain.Desc) (swapchain.Handle, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return s.chains.Create(desc)
}

// DestroySwapChain releases a swapchain and its textures. Layers that still
// reference it fail with ErrInvalidLayerSource. Overlays still showing one
// of its textures are hidden. While a frame is being submitted the
// textures are released when that submission finishes.
func (s *Session) DestroySwapChain(h swapchain.Handle) error {
	if err := s.check(); err != nil {
		return err
	}
	s.mu.Lock()
	textures, err := s.chains.Retire(h)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.masks, h)
	if s.readers > 0 {
		s.retired = append(s.retired, textures...)
		logger := s.logger
		s.mu.Unlock()
		logger.Debug("vrbridge: swapchain release deferred to end of frame", "swapchain", h)
		return nil
	}
	s.mu.Unlock()
	return s.releaseTextures(textures)
}

// releaseTextures hides overlays showing textures, then destroys them.
func (s *Session) releaseTextures(textures []backend.Texture) error {
	_, err := s.pool.HideTextures(textures)
	for _, t := range textures {
		s.backend.DestroyTexture(t)
	}
	if err != nil {
		return fmt.Errorf("hide overlays of released swapchain: %w", err)
	}
	return nil
}

// beginRead pins swapchain textures until the matching endRead.
func (s *Session) beginRead() {
	s.mu.Lock()
	s.readers++
	s.mu.Unlock()
}

// endRead releases textures retired while pinned once no reader is left.
func (s *Session) endRead() {
	s.mu.Lock()
	s.readers--
	var textures []backend.Texture
	if s.readers == 0 {
		textures, s.retired = s.retired, nil
	}
	logger := s.logger
	s.mu.Unlock()
	if len(textures) == 0 {
		return
	}
	if err := s.releaseTextures(textures); err != nil {
		logger.Warn("vrbridge: release destroyed swapchain", "err", err)
	}
}

// Commit marks the texture at the current index as complete and advances
// the write cursor.
func (s *Session) Commit(h swapchain.Handle) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.chains.Commit(h)
}

// CurrentIndex returns the index the application should render into next.
// The value is a snapshot.
func (s *Session) CurrentIndex(h swapchain.Handle) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return s.chains.GetCurrentIndex(h)
}

// SwapChainLength returns the number of textures in a swapchain.
func (s *Session) SwapChainLength(h swapchain.Handle) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return s.chains.Length(h)
}

// SwapChainTexture returns texture i of a swapchain.
func (s *Session) SwapChainTexture(h swapchain.Handle, i int) (backend.Texture, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.chains.Texture(h, i)
}

// ViewportToTextureBounds converts a pixel viewport on a swapchain into
// normalized texture bounds.
func (s *Session) ViewportToTextureBounds(h swapchain.Handle, vp geom.Recti) (geom.Rect, error) {
	if err := s.check(); err != nil {
		return geom.Rect{}, err
	}
	return s.chains.ViewportToTextureBounds(h, vp)
}

// CreateMirrorTexture allocates the mirror texture, replacing any bound one.
// Until the first frame is composed it holds the mirror clear color.
func (s *Session) CreateMirrorTexture(desc mirror.Desc) (backend.Texture, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.mirror.Bind(desc)
}

// DestroyMirrorTexture releases the mirror texture. tex must be the bound
// mirror texture.
func (s *Session) DestroyMirrorTexture(tex backend.Texture) error {
	if err := s.check(); err != nil {
		return err
	}
	if tex == nil || tex != s.mirror.Texture() {
		return fmt.Errorf("%w: not the bound mirror texture", result.ErrInvalidHandle)
	}
	s.mirror.Unbind()
	return nil
}

// MirrorTexture returns the bound mirror texture, or nil.
func (s *Session) MirrorTexture() backend.Texture { return s.mirror.Texture() }

// UpdateMirror recomposes the mirror texture from what the compositor
// currently shows. EndFrame does this after every successful frame.
func (s *Session) UpdateMirror() error {
	if err := s.check(); err != nil {
		return err
	}
	s.beginRead()
	defer s.endRead()
	return s.flushMirror()
}

func (s *Session) flushMirror() error {
	if err := s.mirror.Compose(); err != nil {
		return err
	}
	return s.backend.Flush()
}

// WaitToBeginFrame blocks until the compositor can take frame index. It
// retries while the compositor is not ready, up to the configured timeout.
func (s *Session) WaitToBeginFrame(ctx context.Context, index int64) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.seq.Wait(ctx, index)
}

// BeginFrame marks frame index active. It requires a completed
// WaitToBeginFrame for the same index.
func (s *Session) BeginFrame(index int64) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.seq.Begin(index)
}

// EndFrame presents layers as frame index. Either every layer is shown or
// the compositor is left as it was. The frame is consumed even when the
// layers cannot be shown; the error is returned and the next frame may
// begin. Once the layers are shown the frame counts as presented: a mirror
// update failure is logged, and only a lost device is reported.
func (s *Session) EndFrame(index int64, layers ...layer.Layer) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.seq.End(index, func() error {
		s.beginRead()
		defer s.endRead()
		rep, err := s.translator.Translate(layers)
		if err != nil {
			return err
		}
		s.recordDepth(layers)
		logger := s.log()
		logger.Debug("vrbridge: frame submitted",
			"frame", index,
			"bound", rep.Bound,
			"blitted", rep.Blitted,
			"skipped", rep.Skipped)
		if err := s.flushMirror(); err != nil {
			if errors.Is(err, result.ErrLostDevice) {
				return err
			}
			logger.Warn("vrbridge: mirror update failed", "frame", index, "err", err)
		}
		return nil
	})
}

// Phase returns the frame sequencer phase.
func (s *Session) Phase() frame.Phase { return s.seq.Phase() }

// Close waits for the frame in flight, if any, then releases every overlay,
// swapchain and the mirror texture. Calls after Close fail with
// ErrInvalidHandle. Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.seq.Drain(ctx); err != nil {
		return fmt.Errorf("%w: %w", result.ErrTimeout, err)
	}

	if dm, ok := s.backend.(backend.DepthMasker); ok && s.cfg.Depth.HiddenAreaMask {
		dm.SetDepthClearedFunc(nil)
	}
	var errs []error
	s.mirror.Close()
	s.translator.Close()
	if err := s.pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("release overlays: %w", err))
	}
	s.mu.Lock()
	retired := s.retired
	s.retired = nil
	s.mu.Unlock()
	for _, t := range retired {
		s.backend.DestroyTexture(t)
	}
	s.chains.Close()
	if s.ownsBackend {
		if err := s.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
	}
	s.log().Info("vrbridge: session closed")
	return errors.Join(errs...)
}

// recordDepth remembers the eye regions of depth swapchains submitted with
// eye-FOV-with-depth layers.
func (s *Session) recordDepth(layers []layer.Layer) {
	if !s.cfg.Depth.HiddenAreaMask {
		return
	}
	for _, l := range layers {
		d, ok := l.(*layer.EyeFovDepth)
		if !ok {
			continue
		}
		uses := make(map[swapchain.Handle]depthUse, 2)
		for i, eye := range hcr.Eyes {
			h := d.Depth[i]
			region := geom.FullRect
			if vp := d.Eyes[i].Viewport; vp != (geom.Recti{}) {
				r, err := s.chains.ViewportToTextureBounds(h, vp)
				if err != nil {
					continue
				}
				region = r
			}
			if d.Flags.Has(layer.FlagTextureOriginAtBottomLeft) {
				region = region.FlipV()
			}
			u := uses[h]
			u.regions[i] = region
			u.eyes |= hcr.MaskOf(eye)
			uses[h] = u
		}
		s.mu.Lock()
		for h, u := range uses {
			s.masks[h] = u
		}
		s.mu.Unlock()
	}
}

// depthCleared draws the hidden area mesh of each eye into a depth texture
// the application just cleared to the trigger depth.
func (s *Session) depthCleared(tex backend.Texture, depth float32) {
	if depth != s.cfg.Depth.TriggerDepth {
		return
	}
	h, ok := s.chains.Owner(tex)
	if !ok {
		return
	}
	s.mu.Lock()
	use, ok := s.masks[h]
	logger := s.logger
	s.mu.Unlock()
	if !ok {
		return
	}
	dm := s.backend.(backend.DepthMasker)
	for i, eye := range hcr.Eyes {
		if !use.eyes.Has(eye) {
			continue
		}
		mesh := s.rt.HiddenAreaMesh(eye)
		if len(mesh) == 0 {
			continue
		}
		if err := dm.DrawDepthMask(tex, use.regions[i], mesh, 1); err != nil {
			logger.Warn("vrbridge: hidden area mask failed", "eye", eye.String(), "swapchain", h, "err", err)
		}
	}
}
