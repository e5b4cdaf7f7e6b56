// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package swapchain manages the application's texture swapchains.
//
// A swapchain is a ring of N textures and a write cursor. The application
// renders into the texture at the cursor and calls Commit, which advances
// the cursor. The compositor side reads the most recently committed
// texture through Committed. Commits are counted until MarkRead; a chain
// with N pending commits rejects the next one with TooManyCommits.
package swapchain

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vrbridge/backend"
	"github.com/gogpu/vrbridge/geom"
	"github.com/gogpu/vrbridge/result"
)

// DefaultLength is the ring length used when neither the descriptor nor the
// manager specify one.
const DefaultLength = 3

// Handle identifies a swapchain within one Manager. Handles are never
// reused.
type Handle uint64

// Desc describes a swapchain.
type Desc struct {
	Format      gputypes.TextureFormat
	Width       int
	Height      int
	ArraySize   int // 0 means 1
	MipLevels   int // 0 means 1
	SampleCount int // 0 means 1
	Length      int // 0 means the manager default
}

type chain struct {
	desc     Desc
	textures []backend.Texture
	current  int
	pending  int
	commits  uint64
}

// Manager owns swapchains allocated on one backend. Queries take a read
// lock and return snapshots.
type Manager struct {
	mu      sync.RWMutex
	backend backend.Backend
	length  int
	next    Handle
	chains  map[Handle]*chain
	owners  map[backend.Texture]Handle
	logger  *slog.Logger
}

// NewManager creates a manager allocating through b. defaultLength is used
// for descriptors with Length 0; values below 2 select DefaultLength.
func NewManager(b backend.Backend, defaultLength int) *Manager {
	if defaultLength < 2 {
		defaultLength = DefaultLength
	}
	return &Manager{
		backend: b,
		length:  defaultLength,
		next:    1,
		chains:  make(map[Handle]*chain),
		owners:  make(map[backend.Texture]Handle),
		logger:  slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger for allocation diagnostics.
func (m *Manager) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	m.mu.Lock()
	m.logger = l
	m.mu.Unlock()
}

// Create validates desc and allocates its textures. If any allocation
// fails the textures allocated so far are released.
func (m *Manager) Create(desc Desc) (Handle, error) {
	desc, err := m.validate(desc)
	if err != nil {
		return 0, err
	}

	textures := make([]backend.Texture, 0, desc.Length)
	for i := range desc.Length {
		tex, err := m.backend.CreateTexture(backend.TextureDesc{
			Label:       fmt.Sprintf("swapchain[%d]", i),
			Width:       desc.Width,
			Height:      desc.Height,
			ArrayLayers: desc.ArraySize,
			MipLevels:   desc.MipLevels,
			SampleCount: desc.SampleCount,
			Format:      desc.Format,
		})
		if err != nil {
			for _, t := range textures {
				m.backend.DestroyTexture(t)
			}
			if result.Of(err) == result.Unknown {
				err = fmt.Errorf("%w: %w", result.ErrOutOfMemory, err)
			}
			return 0, fmt.Errorf("swapchain: allocate texture %d of %d: %w", i+1, desc.Length, err)
		}
		textures = append(textures, tex)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.next
	m.next++
	m.chains[h] = &chain{desc: desc, textures: textures}
	for _, t := range textures {
		m.owners[t] = h
	}
	m.logger.Debug("swapchain: created",
		"handle", uint64(h), "format", desc.Format.String(),
		"width", desc.Width, "height", desc.Height, "length", desc.Length)
	return h, nil
}

func (m *Manager) validate(d Desc) (Desc, error) {
	caps := m.backend.Caps()
	if !caps.SupportsFormat(d.Format) {
		return d, fmt.Errorf("%w: %s on %s backend", result.ErrUnsupportedFormat, d.Format, m.backend.Name())
	}
	maxDim := int(caps.Limits.MaxTextureDimension2D)
	if d.Width < 1 || d.Height < 1 || d.Width > maxDim || d.Height > maxDim {
		return d, fmt.Errorf("%w: size %dx%d outside 1..%d", result.ErrInvalidArgument, d.Width, d.Height, maxDim)
	}
	if d.ArraySize == 0 {
		d.ArraySize = 1
	}
	if d.ArraySize < 1 || d.ArraySize > int(caps.Limits.MaxTextureArrayLayers) {
		return d, fmt.Errorf("%w: array size %d", result.ErrInvalidArgument, d.ArraySize)
	}
	if d.MipLevels == 0 {
		d.MipLevels = 1
	}
	if d.MipLevels < 1 || d.MipLevels > backend.MaxMipLevels(d.Width, d.Height) {
		return d, fmt.Errorf("%w: %d mip levels for %dx%d", result.ErrInvalidArgument, d.MipLevels, d.Width, d.Height)
	}
	switch d.SampleCount {
	case 0:
		d.SampleCount = 1
	case 1, 4:
	default:
		return d, fmt.Errorf("%w: sample count %d", result.ErrInvalidArgument, d.SampleCount)
	}
	if d.Length == 0 {
		d.Length = m.length
	}
	if d.Length < 2 {
		return d, fmt.Errorf("%w: swapchain length %d, need at least 2", result.ErrInvalidArgument, d.Length)
	}
	return d, nil
}

// Destroy releases the chain's textures. Later references to h fail.
func (m *Manager) Destroy(h Handle) error {
	textures, err := m.Retire(h)
	if err != nil {
		return err
	}
	for _, t := range textures {
		m.backend.DestroyTexture(t)
	}
	return nil
}

// Retire removes h from the manager without destroying its textures, which
// are returned to the caller. Later references to h fail exactly as after
// Destroy.
func (m *Manager) Retire(h Handle) ([]backend.Texture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chains[h]
	if !ok {
		return nil, fmt.Errorf("%w: swapchain %d", result.ErrInvalidHandle, h)
	}
	delete(m.chains, h)
	for _, t := range c.textures {
		delete(m.owners, t)
	}
	m.logger.Debug("swapchain: destroyed", "handle", uint64(h))
	return c.textures, nil
}

// Commit advances the write cursor of h.
func (m *Manager) Commit(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chains[h]
	if !ok {
		return fmt.Errorf("%w: swapchain %d", result.ErrInvalidHandle, h)
	}
	n := len(c.textures)
	if c.pending >= n {
		return fmt.Errorf("%w: swapchain %d has %d unread commits", result.ErrTooManyCommits, h, c.pending)
	}
	c.current = (c.current + 1) % n
	c.pending++
	c.commits++
	return nil
}

// GetCurrentIndex returns the index the application should render into
// next. The value is a snapshot.
func (m *Manager) GetCurrentIndex(h Handle) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chains[h]
	if !ok {
		return 0, fmt.Errorf("%w: swapchain %d", result.ErrInvalidHandle, h)
	}
	return c.current, nil
}

// Committed returns the most recently committed texture of h and its
// index. It never returns the texture at the write cursor.
func (m *Manager) Committed(h Handle) (backend.Texture, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chains[h]
	if !ok {
		return nil, 0, fmt.Errorf("%w: swapchain %d does not exist", result.ErrInvalidLayerSource, h)
	}
	if c.commits == 0 {
		return nil, 0, fmt.Errorf("%w: swapchain %d was never committed", result.ErrInvalidLayerSource, h)
	}
	n := len(c.textures)
	i := (c.current - 1 + n) % n
	return c.textures[i], i, nil
}

// MarkRead clears the pending commit count of h. Unknown handles are
// ignored.
func (m *Manager) MarkRead(h Handle) {
	m.mu.Lock()
	if c, ok := m.chains[h]; ok {
		c.pending = 0
	}
	m.mu.Unlock()
}

// Texture returns texture i of h.
func (m *Manager) Texture(h Handle, i int) (backend.Texture, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chains[h]
	if !ok {
		return nil, fmt.Errorf("%w: swapchain %d", result.ErrInvalidHandle, h)
	}
	if i < 0 || i >= len(c.textures) {
		return nil, fmt.Errorf("%w: index %d of %d", result.ErrInvalidArgument, i, len(c.textures))
	}
	return c.textures[i], nil
}

// Length returns the ring length of h.
func (m *Manager) Length(h Handle) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chains[h]
	if !ok {
		return 0, fmt.Errorf("%w: swapchain %d", result.ErrInvalidHandle, h)
	}
	return len(c.textures), nil
}

// Desc returns the normalized descriptor of h.
func (m *Manager) Desc(h Handle) (Desc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chains[h]
	if !ok {
		return Desc{}, fmt.Errorf("%w: swapchain %d", result.ErrInvalidHandle, h)
	}
	return c.desc, nil
}

// Owner returns the swapchain a texture belongs to.
func (m *Manager) Owner(tex backend.Texture) (Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.owners[tex]
	return h, ok
}

// ViewportToTextureBounds converts a pixel viewport on h into normalized
// bounds.
func (m *Manager) ViewportToTextureBounds(h Handle, vp geom.Recti) (geom.Rect, error) {
	d, err := m.Desc(h)
	if err != nil {
		return geom.Rect{}, fmt.Errorf("%w: unknown swapchain %d", result.ErrInvalidArgument, h)
	}
	return geom.ViewportToTextureBounds(vp, d.Width, d.Height)
}

// Close destroys every remaining swapchain.
func (m *Manager) Close() {
	m.mu.Lock()
	chains := m.chains
	m.chains = make(map[Handle]*chain)
	m.owners = make(map[backend.Texture]Handle)
	m.mu.Unlock()

	for _, c := range chains {
		for _, t := range c.textures {
			m.backend.DestroyTexture(t)
		}
	}
}
