// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package overlay manages a bounded pool of host compositor overlays.
//
// Entries are keyed by a stable string identity such as "layer/0/left" so
// that resubmitting the same logical layer every frame reuses the same
// overlay. Entries that fall out of use are hidden and kept for reuse; the
// pool never holds more than its configured maximum.
package overlay

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/vrbridge/backend"
	"github.com/gogpu/vrbridge/geom"
	"github.com/gogpu/vrbridge/hcr"
	"github.com/gogpu/vrbridge/result"
)

// DefaultMax is the pool capacity used when none is configured.
const DefaultMax = 16

// Entry is a pooled overlay.
type Entry struct {
	Key    string
	Handle hcr.OverlayHandle
}

// Update binds a texture to the overlay for Key.
type Update struct {
	Key       string
	Texture   backend.Texture
	Bounds    geom.Rect
	Placement hcr.Placement
}

type slot struct {
	handle  hcr.OverlayHandle
	key     string
	inUse   bool // acquired and not released
	visible bool
	texture backend.Texture
}

// Pool is a bounded, keyed overlay pool on one runtime.
type Pool struct {
	mu     sync.Mutex
	rt     hcr.Runtime
	max    int
	slots  []*slot
	byKey  map[string]*slot
	logger *slog.Logger
}

// NewPool creates an empty pool holding at most max overlays. Values below
// 1 select DefaultMax.
func NewPool(rt hcr.Runtime, max int) *Pool {
	if max < 1 {
		max = DefaultMax
	}
	return &Pool{
		rt:     rt,
		max:    max,
		byKey:  make(map[string]*slot),
		logger: slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the pool logger.
func (p *Pool) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	p.mu.Lock()
	p.logger = l
	p.mu.Unlock()
}

// Max returns the pool capacity.
func (p *Pool) Max() int { return p.max }

// Len returns the number of allocated overlays.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Active returns the number of visible overlays.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.slots {
		if s.visible {
			n++
		}
	}
	return n
}

// Lookup returns the entry bound to key, if any.
func (p *Pool) Lookup(key string) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.byKey[key]
	if !ok {
		return Entry{}, false
	}
	return Entry{Key: key, Handle: s.handle}, true
}

// Acquire returns the entry for key, reassigning a hidden entry or
// creating a new overlay when key has none.
func (p *Pool) Acquire(key string) (Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.acquireLocked(key, nil)
	if err != nil {
		return Entry{}, err
	}
	s.inUse = true
	return Entry{Key: key, Handle: s.handle}, nil
}

// acquireLocked finds or creates the slot for key. Without reserved only
// released slots are reassigned; with reserved any slot whose key is not in
// it may be, since the caller hides those in the same batch.
func (p *Pool) acquireLocked(key string, reserved map[string]bool) (*slot, error) {
	if s, ok := p.byKey[key]; ok {
		return s, nil
	}
	for _, s := range p.slots {
		if (reserved == nil && s.inUse) || reserved[s.key] {
			continue
		}
		delete(p.byKey, s.key)
		s.key = key
		p.byKey[key] = s
		return s, nil
	}
	if len(p.slots) >= p.max {
		return nil, fmt.Errorf("%w: overlay pool full (%d)", result.ErrResourceExhausted, p.max)
	}
	h, err := p.rt.CreateOverlay(key)
	if err != nil {
		return nil, fmt.Errorf("overlay: create %q: %w", key, err)
	}
	s := &slot{handle: h, key: key}
	p.slots = append(p.slots, s)
	p.byKey[key] = s
	p.logger.Debug("overlay: created", "key", key, "overlay", uint64(h), "pooled", len(p.slots))
	return s, nil
}

// Bind shows tex on e.
func (p *Pool) Bind(e Entry, tex backend.Texture, bounds geom.Rect, placement hcr.Placement) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.slotFor(e)
	if err != nil {
		return err
	}
	if err := p.rt.Apply(hcr.Batch{{
		Overlay:   s.handle,
		Texture:   tex,
		Bounds:    bounds,
		Placement: placement,
		Visible:   true,
	}}); err != nil {
		return err
	}
	s.inUse = true
	s.visible = true
	s.texture = tex
	return nil
}

// Release hides e and makes it available for other keys.
func (p *Pool) Release(e Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.slotFor(e)
	if err != nil {
		return err
	}
	if s.visible {
		if err := p.rt.Apply(hcr.Batch{{Overlay: s.handle}}); err != nil {
			return err
		}
	}
	s.inUse = false
	s.visible = false
	s.texture = nil
	return nil
}

// HideTextures hides, in one batch, every visible overlay showing one of
// textures. It returns the number of overlays hidden. The entries keep
// their keys and are rebound by the next Commit that names them.
func (p *Pool) HideTextures(textures []backend.Texture) (int, error) {
	if len(textures) == 0 {
		return 0, nil
	}
	set := make(map[backend.Texture]bool, len(textures))
	for _, t := range textures {
		set[t] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var hidden []*slot
	var batch hcr.Batch
	for _, s := range p.slots {
		if s.visible && set[s.texture] {
			hidden = append(hidden, s)
			batch = append(batch, hcr.Update{Overlay: s.handle})
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := p.rt.Apply(batch); err != nil {
		return 0, err
	}
	for _, s := range hidden {
		s.visible = false
		s.texture = nil
	}
	p.logger.Debug("overlay: hid released textures", "hidden", len(hidden))
	return len(hidden), nil
}

func (p *Pool) slotFor(e Entry) (*slot, error) {
	s, ok := p.byKey[e.Key]
	if !ok || s.handle != e.Handle {
		return nil, fmt.Errorf("%w: overlay entry %q", result.ErrInvalidHandle, e.Key)
	}
	return s, nil
}

// Commit shows every update and hides every other visible overlay in a
// single batch. Capacity is checked before the runtime is touched, so a
// failed Commit leaves the compositor's view unchanged.
func (p *Pool) Commit(updates []Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	keep := make(map[string]bool, len(updates))
	for _, u := range updates {
		if keep[u.Key] {
			return fmt.Errorf("%w: duplicate overlay key %q", result.ErrInvalidArgument, u.Key)
		}
		keep[u.Key] = true
	}
	if err := p.checkCapacityLocked(keep); err != nil {
		return err
	}

	prevKeys := make(map[*slot]string, len(p.slots))
	for _, s := range p.slots {
		prevKeys[s] = s.key
	}
	restore := func() {
		p.byKey = make(map[string]*slot, len(p.slots))
		for _, s := range p.slots {
			if k, ok := prevKeys[s]; ok {
				s.key = k
			}
			p.byKey[s.key] = s
		}
	}

	batch := make(hcr.Batch, 0, len(updates)+len(p.slots))
	shown := make([]*slot, 0, len(updates))
	textures := make([]backend.Texture, 0, len(updates))
	for _, u := range updates {
		s, err := p.acquireLocked(u.Key, keep)
		if err != nil {
			restore()
			return err
		}
		shown = append(shown, s)
		textures = append(textures, u.Texture)
		batch = append(batch, hcr.Update{
			Overlay:   s.handle,
			Texture:   u.Texture,
			Bounds:    u.Bounds,
			Placement: u.Placement,
			Visible:   true,
		})
	}
	var hidden []*slot
	for _, s := range p.slots {
		if s.visible && !keep[s.key] {
			hidden = append(hidden, s)
			batch = append(batch, hcr.Update{Overlay: s.handle})
		}
	}

	if err := p.rt.Apply(batch); err != nil {
		restore()
		return err
	}
	p.logger.Debug("overlay: committed", "shown", len(shown), "hidden", len(hidden))
	for _, s := range p.slots {
		s.inUse = false
	}
	for _, s := range hidden {
		s.visible = false
		s.texture = nil
	}
	for i, s := range shown {
		s.inUse = true
		s.visible = true
		s.texture = textures[i]
	}
	return nil
}

// checkCapacityLocked reports ResourceExhausted if keep cannot be served
// without exceeding max overlays.
func (p *Pool) checkCapacityLocked(keep map[string]bool) error {
	need := 0
	for key := range keep {
		if _, ok := p.byKey[key]; !ok {
			need++
		}
	}
	free := p.max - len(p.slots)
	for _, s := range p.slots {
		if !keep[s.key] {
			free++
		}
	}
	if need > free {
		return fmt.Errorf("%w: %d overlays requested, pool holds %d", result.ErrResourceExhausted, len(keep), p.max)
	}
	return nil
}

// Close destroys every pooled overlay.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for _, s := range p.slots {
		if err := p.rt.DestroyOverlay(s.handle); err != nil && first == nil {
			first = err
		}
	}
	p.slots = nil
	p.byKey = make(map[string]*slot)
	return first
}
