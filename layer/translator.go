// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package layer

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vrbridge/backend"
	"github.com/gogpu/vrbridge/geom"
	"github.com/gogpu/vrbridge/hcr"
	"github.com/gogpu/vrbridge/overlay"
	"github.com/gogpu/vrbridge/result"
	"github.com/gogpu/vrbridge/swapchain"
)

// Key returns the overlay pool key of slot within layer index.
func Key(index int, slot string) string {
	return fmt.Sprintf("layer/%d/%s", index, slot)
}

// Report summarizes one Translate call.
type Report struct {
	Bound   int // overlays showing a swapchain texture directly
	Blitted int // overlays showing an intermediate copy
	Skipped int // layers not shown
}

// Translator turns layer lists into overlay updates. It is not safe for
// concurrent use; the frame sequencer serializes calls.
type Translator struct {
	backend backend.Backend
	rt      hcr.Runtime
	chains  *swapchain.Manager
	pool    *overlay.Pool
	staging map[string]*stage
	logger  *slog.Logger
}

// stage is a double-buffered intermediate texture for one overlay key. The
// texture at shown is bound to the overlay and is never drawn into.
type stage struct {
	textures [2]backend.Texture
	shown    int
}

// planned is one overlay update waiting for commit.
type planned struct {
	key       string
	src       backend.Texture
	srcBounds geom.Rect
	dstBounds geom.Rect
	size      [2]int
	placement hcr.Placement
	direct    bool
}

// NewTranslator creates a translator.
func NewTranslator(b backend.Backend, rt hcr.Runtime, chains *swapchain.Manager, pool *overlay.Pool) *Translator {
	return &Translator{
		backend: b,
		rt:      rt,
		chains:  chains,
		pool:    pool,
		staging: make(map[string]*stage),
		logger:  slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the translator logger.
func (t *Translator) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	t.logger = l
}

// Translate shows layers, in list order, and hides overlays of layers that
// are no longer submitted. Either every layer is reflected or none is: all
// sources are resolved before any texture is drawn or overlay touched.
func (t *Translator) Translate(layers []Layer) (Report, error) {
	var rep Report
	var plan []planned
	read := make(map[swapchain.Handle]bool)

	for i, l := range layers {
		if l == nil {
			rep.Skipped++
			continue
		}
		h := l.LayerHeader()
		var items []planned
		var err error
		switch h.Type {
		case TypeDisabled:
			rep.Skipped++
			continue
		case TypeEyeFov:
			if v, ok := l.(*EyeFov); ok {
				items, err = t.planEyes(i, h, v.Eyes[:], nil, read)
			} else {
				err = errMismatch
			}
		case TypeEyeFovDepth:
			if v, ok := l.(*EyeFovDepth); ok {
				items, err = t.planEyes(i, h, v.Eyes[:], v.Depth[:], read)
			} else {
				err = errMismatch
			}
		case TypeEyeMatrix:
			if v, ok := l.(*EyeMatrix); ok {
				eyes := make([]EyeImage, len(v.Eyes))
				for e, m := range v.Eyes {
					eyes[e] = EyeImage{SwapChain: m.SwapChain, Viewport: m.Viewport, Fov: geom.FovFromProjection(m.Projection)}
				}
				items, err = t.planEyes(i, h, eyes, nil, read)
			} else {
				err = errMismatch
			}
		case TypeQuad:
			if v, ok := l.(*Quad); ok {
				items, err = t.planQuad(i, h, v.SwapChain, v.Viewport, v.Pose, v.Size.X, 0, read)
			} else {
				err = errMismatch
			}
		case TypeCylinder:
			if v, ok := l.(*Cylinder); ok {
				curvature := min(1, max(0, v.CentralAngle/(2*math.Pi)))
				items, err = t.planQuad(i, h, v.SwapChain, v.Viewport, v.Pose, v.Radius*v.CentralAngle, curvature, read)
			} else {
				err = errMismatch
			}
		default:
			err = errMismatch
		}
		if errors.Is(err, errMismatch) {
			t.logger.Warn("layer: skipping unsupported layer", "index", i, "type", h.Type.String())
			rep.Skipped++
			continue
		}
		if err != nil {
			return Report{}, fmt.Errorf("layer %d (%s): %w", i, h.Type, err)
		}
		plan = append(plan, items...)
	}

	updates := make([]overlay.Update, 0, len(plan))
	flips := make(map[*stage]int)
	for _, p := range plan {
		if p.direct {
			updates = append(updates, overlay.Update{Key: p.key, Texture: p.src, Bounds: p.srcBounds, Placement: p.placement})
			rep.Bound++
			continue
		}
		st, slot, dst, err := t.blit(p)
		if err != nil {
			return Report{}, err
		}
		flips[st] = slot
		updates = append(updates, overlay.Update{Key: p.key, Texture: dst, Bounds: geom.FullRect, Placement: p.placement})
		rep.Blitted++
	}
	if rep.Blitted > 0 {
		if err := t.backend.Flush(); err != nil {
			return Report{}, fmt.Errorf("layer: flush blits: %w", err)
		}
	}

	if err := t.pool.Commit(updates); err != nil {
		return Report{}, err
	}
	for st, slot := range flips {
		st.shown = slot
	}
	t.releaseStages(flips)
	for h := range read {
		t.chains.MarkRead(h)
	}
	t.logger.Debug("layer: frame translated", "layers", len(layers),
		"bound", rep.Bound, "blitted", rep.Blitted, "skipped", rep.Skipped)
	return rep, nil
}

var errMismatch = errors.New("layer: type does not match variant")

// resolve returns the committed texture of h and the source bounds of vp.
func (t *Translator) resolve(h swapchain.Handle, vp geom.Recti, flags Flags) (backend.Texture, geom.Rect, error) {
	tex, _, err := t.chains.Committed(h)
	if err != nil {
		return nil, geom.Rect{}, err
	}
	bounds := geom.FullRect
	if vp != (geom.Recti{}) {
		bounds, err = t.chains.ViewportToTextureBounds(h, vp)
		if err != nil {
			return nil, geom.Rect{}, err
		}
	}
	if flags.Has(FlagTextureOriginAtBottomLeft) {
		bounds = bounds.FlipV()
	}
	return tex, bounds, nil
}

func (t *Translator) planEyes(index int, h Header, eyes []EyeImage, depth []swapchain.Handle, read map[swapchain.Handle]bool) ([]planned, error) {
	items := make([]planned, 0, len(eyes))
	for e, img := range eyes {
		eye := hcr.Eyes[e]
		src, srcBounds, err := t.resolve(img.SwapChain, img.Viewport, h.Flags)
		if err != nil {
			return nil, fmt.Errorf("%s eye: %w", eye, err)
		}
		if depth != nil {
			if _, _, err := t.chains.Committed(depth[e]); err != nil {
				return nil, fmt.Errorf("%s eye depth: %w", eye, err)
			}
			read[depth[e]] = true
		}
		read[img.SwapChain] = true

		// Parts of the image beyond the display's field of view are cut off
		// rather than squeezed in.
		dstBounds, crop := geom.FovCrop(img.Fov, t.rt.ReferenceFov(eye))
		if dstBounds.IsEmpty() {
			return nil, fmt.Errorf("%w: %s eye fov %+v outside the display", result.ErrInvalidArgument, eye, img.Fov)
		}
		srcBounds = srcBounds.Compose(crop)
		items = append(items, planned{
			key:       Key(index, eye.String()),
			src:       src,
			srcBounds: srcBounds,
			dstBounds: dstBounds,
			size:      stageSize(src, srcBounds, dstBounds),
			placement: hcr.Placement{
				Transform:   geom.Identity34,
				Origin:      hcr.OriginView,
				Eyes:        hcr.MaskOf(eye),
				SortOrder:   index,
				Alpha:       1 - h.Fade,
				HighQuality: h.Flags.Has(FlagHighQuality),
			},
			direct: t.rt.AcceptsFormat(src.Format()) && dstBounds.IsFull(),
		})
	}
	return items, nil
}

func (t *Translator) planQuad(index int, h Header, chain swapchain.Handle, vp geom.Recti, pose geom.Pose, width, curvature float64, read map[swapchain.Handle]bool) ([]planned, error) {
	src, srcBounds, err := t.resolve(chain, vp, h.Flags)
	if err != nil {
		return nil, err
	}
	if width <= 0 {
		return nil, fmt.Errorf("%w: layer width %v", result.ErrInvalidArgument, width)
	}
	read[chain] = true
	origin := hcr.OriginTracking
	if h.Flags.Has(FlagHeadLocked) {
		origin = hcr.OriginHead
	}
	return []planned{{
		key:       Key(index, "quad"),
		src:       src,
		srcBounds: srcBounds,
		dstBounds: geom.FullRect,
		size:      stageSize(src, srcBounds, geom.FullRect),
		placement: hcr.Placement{
			Transform:   pose.Matrix(),
			Origin:      origin,
			WidthMeters: width,
			Curvature:   curvature,
			Eyes:        hcr.EyeMaskBoth,
			SortOrder:   index,
			Alpha:       1 - h.Fade,
			HighQuality: h.Flags.Has(FlagHighQuality),
		},
		direct: t.rt.AcceptsFormat(src.Format()),
	}}, nil
}

// stageSize returns the intermediate texture size that keeps the source
// viewport at native resolution once drawn into dst.
func stageSize(src backend.Texture, srcBounds, dst geom.Rect) [2]int {
	w := math.Abs(srcBounds.Width()) * float64(src.Width()) / dst.Width()
	h := math.Abs(srcBounds.Height()) * float64(src.Height()) / dst.Height()
	return [2]int{max(1, int(math.Round(w))), max(1, int(math.Round(h)))}
}

// stageFormat picks an intermediate format the runtime accepts, preferring
// the source's color encoding.
func (t *Translator) stageFormat(src gputypes.TextureFormat) (gputypes.TextureFormat, error) {
	candidates := []gputypes.TextureFormat{
		gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatBGRA8UnormSrgb,
	}
	if src == gputypes.TextureFormatRGBA8UnormSrgb || src == gputypes.TextureFormatBGRA8UnormSrgb {
		candidates[0], candidates[1] = candidates[1], candidates[0]
		candidates[2], candidates[3] = candidates[3], candidates[2]
	}
	caps := t.backend.Caps()
	for _, f := range candidates {
		if t.rt.AcceptsFormat(f) && caps.SupportsFormat(f) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: no overlay format for %s", result.ErrUnsupportedFormat, src)
}

// blit draws p into the hidden half of its stage and returns the slot to
// show once the frame commits.
func (t *Translator) blit(p planned) (*stage, int, backend.Texture, error) {
	format, err := t.stageFormat(p.src.Format())
	if err != nil {
		return nil, 0, nil, err
	}
	maxDim := int(t.backend.Caps().Limits.MaxTextureDimension2D)
	w, h := min(p.size[0], maxDim), min(p.size[1], maxDim)

	st, ok := t.staging[p.key]
	if !ok {
		st = &stage{shown: -1}
		t.staging[p.key] = st
	}
	slot := 0
	if st.shown == 0 {
		slot = 1
	}
	dst := st.textures[slot]
	if dst == nil || dst.Width() != w || dst.Height() != h || dst.Format() != format {
		t.backend.DestroyTexture(dst)
		st.textures[slot] = nil
		dst, err = t.backend.CreateTexture(backend.TextureDesc{
			Label:  fmt.Sprintf("%s[%d]", p.key, slot),
			Width:  w,
			Height: h,
			Format: format,
		})
		if err != nil {
			return nil, 0, nil, fmt.Errorf("layer: intermediate for %s: %w", p.key, err)
		}
		st.textures[slot] = dst
	}

	if err := t.backend.Clear(dst, gputypes.Color{}); err != nil {
		return nil, 0, nil, err
	}
	if err := t.backend.DrawQuad(p.src, p.srcBounds, dst, p.dstBounds, backend.BlendSourceOver); err != nil {
		return nil, 0, nil, fmt.Errorf("layer: blit %s: %w", p.key, err)
	}
	return st, slot, dst, nil
}

// releaseStages destroys the intermediates of keys that drew nothing this
// frame. Their overlays were hidden or rebound by the commit.
func (t *Translator) releaseStages(used map[*stage]int) {
	for key, st := range t.staging {
		if _, ok := used[st]; ok {
			continue
		}
		for _, tex := range st.textures {
			t.backend.DestroyTexture(tex)
		}
		delete(t.staging, key)
		t.logger.Debug("layer: released intermediate", "key", key)
	}
}

// Stages returns the number of overlay keys holding intermediates.
func (t *Translator) Stages() int { return len(t.staging) }

// Close releases every intermediate texture.
func (t *Translator) Close() {
	for key, st := range t.staging {
		for _, tex := range st.textures {
			t.backend.DestroyTexture(tex)
		}
		delete(t.staging, key)
	}
}
