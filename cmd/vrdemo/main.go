// Command vrdemo drives a vrbridge session against the headless compositor
// and writes the mirror texture to a PNG file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"log/slog"
	"math"
	"os"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/vrbridge"
	"github.com/gogpu/vrbridge/backend"
	"github.com/gogpu/vrbridge/geom"
	"github.com/gogpu/vrbridge/hcr/headless"
	"github.com/gogpu/vrbridge/layer"
	"github.com/gogpu/vrbridge/mirror"
	"github.com/gogpu/vrbridge/swapchain"
)

func main() {
	var (
		configPath = flag.String("config", "vrbridge.yaml", "configuration file (missing file uses defaults)")
		frames     = flag.Int("frames", 90, "number of frames to submit")
		eyeSize    = flag.Int("eye", 256, "eye texture size in pixels")
		output     = flag.String("output", "mirror.png", "mirror output file")
		gpu        = flag.Bool("noop-gpu", false, "run the wgpu backend on a no-op HAL device")
		debug      = flag.Bool("debug", false, "log at debug level")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	vrbridge.SetLogger(logger)

	if err := run(*configPath, *frames, *eyeSize, *output, *gpu, logger); err != nil {
		log.Fatalf("vrdemo: %v", err)
	}
}

func run(configPath string, frames, eyeSize int, output string, gpu bool, logger *slog.Logger) error {
	cfg, err := vrbridge.LoadConfig(configPath)
	if err != nil {
		return err
	}

	opts := []vrbridge.Option{vrbridge.WithConfig(cfg), vrbridge.WithLogger(logger)}
	if gpu {
		od, err := openNoopDevice()
		if err != nil {
			return err
		}
		defer od.Device.Destroy()
		opts = append(opts, vrbridge.WithDevice(od))
	}

	rt := headless.New(headless.WithLogger(logger))
	s, err := vrbridge.NewSession(rt, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(context.Background()); err != nil {
			logger.Warn("vrdemo: close", "err", err)
		}
	}()

	eyeDesc := swapchain.Desc{Format: gputypes.TextureFormatRGBA8Unorm, Width: eyeSize, Height: eyeSize}
	left, err := s.CreateSwapChain(eyeDesc)
	if err != nil {
		return err
	}
	right, err := s.CreateSwapChain(eyeDesc)
	if err != nil {
		return err
	}
	panel, err := s.CreateSwapChain(swapchain.Desc{Format: gputypes.TextureFormatRGBA8Unorm, Width: 64, Height: 64, Length: 2})
	if err != nil {
		return err
	}
	if err := paintPanel(s, panel); err != nil {
		return err
	}

	if _, err := s.CreateMirrorTexture(mirror.Desc{Width: 2 * eyeSize, Height: eyeSize}); err != nil {
		return err
	}

	quad := layer.NewQuad(panel, geom.Pose{Orientation: geom.IdentityQuat, Position: geom.Vec3{Z: -1}}, geom.Vec2{X: 0.5, Y: 0.5})
	quad.Flags |= layer.FlagHeadLocked

	ctx := context.Background()
	for i := 0; i < frames; i++ {
		index := int64(i)
		if err := s.WaitToBeginFrame(ctx, index); err != nil {
			return err
		}
		if err := s.BeginFrame(index); err != nil {
			return err
		}

		phase := float64(i) / float64(max(frames-1, 1))
		if err := renderEye(s, left, gputypes.Color{R: 0.2 + 0.8*phase, G: 0.1, B: 0.1, A: 1}); err != nil {
			return err
		}
		if err := renderEye(s, right, gputypes.Color{R: 0.1, G: 0.1, B: 0.2 + 0.8*phase, A: 1}); err != nil {
			return err
		}

		eyes := layer.NewEyeFov(
			layer.EyeImage{SwapChain: left, Fov: headless.DefaultFov},
			layer.EyeImage{SwapChain: right, Fov: headless.DefaultFov},
		)
		if err := s.EndFrame(index, eyes, quad); err != nil {
			return err
		}
	}

	logger.Info("vrdemo: frames submitted", "frames", frames, "overlays", len(rt.Overlays()))
	return saveMirror(s, output)
}

func openNoopDevice() (hal.OpenDevice, error) {
	inst, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		return hal.OpenDevice{}, err
	}
	adapters := inst.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return hal.OpenDevice{}, errors.New("no noop adapter")
	}
	return adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
}

// renderEye stands in for the application's eye rendering: it clears the
// current swapchain texture and commits it.
func renderEye(s *vrbridge.Session, h swapchain.Handle, c gputypes.Color) error {
	idx, err := s.CurrentIndex(h)
	if err != nil {
		return err
	}
	tex, err := s.SwapChainTexture(h, idx)
	if err != nil {
		return err
	}
	if err := s.Backend().Clear(tex, c); err != nil {
		return err
	}
	return s.Commit(h)
}

// paintPanel uploads a ring pattern into the panel swapchain, or clears it
// when the backend takes no uploads.
func paintPanel(s *vrbridge.Session, h swapchain.Handle) error {
	idx, err := s.CurrentIndex(h)
	if err != nil {
		return err
	}
	tex, err := s.SwapChainTexture(h, idx)
	if err != nil {
		return err
	}

	w, ok := s.Backend().(backend.PixelWriter)
	if !ok {
		if err := s.Backend().Clear(tex, gputypes.Color{R: 1, G: 1, B: 1, A: 1}); err != nil {
			return err
		}
		return s.Commit(h)
	}

	img := image.NewRGBA(image.Rect(0, 0, tex.Width(), tex.Height()))
	cx, cy := float64(tex.Width())/2, float64(tex.Height())/2
	for y := 0; y < tex.Height(); y++ {
		for x := 0; x < tex.Width(); x++ {
			d := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy)
			if int(d/4)%2 == 0 {
				img.SetRGBA(x, y, color.RGBA{R: 255, G: 200, A: 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{R: 30, G: 30, B: 30, A: 255})
			}
		}
	}
	if err := w.WritePixels(tex, img); err != nil {
		return err
	}
	return s.Commit(h)
}

func saveMirror(s *vrbridge.Session, path string) error {
	if err := s.UpdateMirror(); err != nil {
		return err
	}
	r, ok := s.Backend().(backend.PixelReader)
	if !ok {
		return fmt.Errorf("backend %s cannot read textures back", s.Backend().Name())
	}
	img, err := r.ReadPixels(s.MirrorTexture())
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Printf("Mirror saved to %s (%dx%d)\n", path, img.Bounds().Dx(), img.Bounds().Dy())
	return nil
}
