package output

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/CutoutCam/internal/logger"
)

// X11Output shows rendered frames in a plain X11 window, handy as a
// capture target for screen-sharing tools.
type X11Output struct {
	config Config
	title  string

	mu      sync.RWMutex
	conn    *xgb.Conn
	screen  *xproto.ScreenInfo
	window  xproto.Window
	gc      xproto.Gcontext // Persistent graphics context
	running bool

	// reused between frames
	canvas *image.RGBA
	data   []byte
}

// NewX11Output creates an X11 window output; the window is created on Start
func NewX11Output(config Config, title string) *X11Output {
	if title == "" {
		title = "CutoutCam"
	}
	return &X11Output{config: config, title: title}
}

// Start connects to the X server, then creates and maps the window
func (x *X11Output) Start() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.running {
		return fmt.Errorf("X11 output already running")
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}
	x.conn = conn
	x.screen = xproto.Setup(conn).DefaultScreen(conn)

	if err := x.createWindow(); err != nil {
		conn.Close()
		x.conn = nil
		return err
	}

	x.canvas = image.NewRGBA(image.Rect(0, 0, x.config.Width, x.config.Height))
	x.running = true

	logger.WithComponent("x11").Info().
		Int("width", x.config.Width).
		Int("height", x.config.Height).
		Uint32("window_id", uint32(x.window)).
		Msg("Output window created")
	return nil
}

func (x *X11Output) createWindow() error {
	windowID, err := xproto.NewWindowId(x.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	x.window = windowID

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000, // Black background
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify,
	}

	err = xproto.CreateWindowChecked(
		x.conn,
		x.screen.RootDepth,
		x.window,
		x.screen.Root,
		0, 0,
		uint16(x.config.Width), uint16(x.config.Height),
		0,
		xproto.WindowClassInputOutput,
		x.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	if err := x.setWindowTitle(x.title); err != nil {
		logger.WithComponent("x11").Warn().Err(err).Msg("Failed to set window title")
	}

	if err := xproto.MapWindowChecked(x.conn, x.window).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(x.conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	x.gc = gc

	err = xproto.CreateGCChecked(
		x.conn,
		x.gc,
		xproto.Drawable(x.window),
		xproto.GcForeground|xproto.GcBackground,
		[]uint32{0xffffffff, 0x00000000},
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}

	x.conn.Sync()
	return nil
}

// Stop destroys the window and closes the connection
func (x *X11Output) Stop() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.running {
		return nil
	}

	if x.gc != 0 {
		xproto.FreeGC(x.conn, x.gc)
	}
	if x.window != 0 {
		xproto.DestroyWindow(x.conn, x.window)
		x.conn.Sync()
	}
	x.conn.Close()

	x.running = false
	logger.WithComponent("x11").Info().Msg("Output window closed")
	return nil
}

// WriteFrame scales frame to fit the window, letterboxed on black, and
// puts it on screen.
func (x *X11Output) WriteFrame(frame image.Image) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.running {
		return fmt.Errorf("X11 output not running")
	}

	draw.Draw(x.canvas, x.canvas.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.ApproxBiLinear.Scale(x.canvas, fitRect(frame.Bounds(), x.canvas.Bounds()), frame, frame.Bounds(), draw.Over, nil)

	depth := x.screen.RootDepth
	var bitsPerPixel, scanlinePad uint8
	for _, format := range xproto.Setup(x.conn).PixmapFormats {
		if format.Depth == depth {
			bitsPerPixel = format.BitsPerPixel
			scanlinePad = format.ScanlinePad
			break
		}
	}
	if bitsPerPixel == 0 {
		return fmt.Errorf("no format found for depth %d", depth)
	}

	data, err := packZPixmap(x.data, x.canvas, int(bitsPerPixel)/8, int(scanlinePad)/8, depth == 32)
	if err != nil {
		return err
	}
	x.data = data

	err = xproto.PutImageChecked(
		x.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(x.window),
		x.gc,
		uint16(x.config.Width),
		uint16(x.config.Height),
		0, 0, // dst x, y
		0,    // left pad
		depth,
		data,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to put image: %w", err)
	}
	return nil
}

// fitRect returns the largest rectangle with src's aspect ratio centered in dst
func fitRect(src, dst image.Rectangle) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	dw, dh := dst.Dx(), dst.Dy()
	if sw == 0 || sh == 0 {
		return image.Rectangle{}
	}

	w, h := dw, sh*dw/sw
	if h > dh {
		w, h = sw*dh/sh, dh
	}
	off := image.Pt(dst.Min.X+(dw-w)/2, dst.Min.Y+(dh-h)/2)
	return image.Rectangle{Min: off, Max: off.Add(image.Pt(w, h))}
}

// packZPixmap converts img to X11 ZPixmap BGR(x) rows padded to padBytes.
// buf is reused when it is large enough.
func packZPixmap(buf []byte, img *image.RGBA, bytesPerPixel, padBytes int, withAlpha bool) ([]byte, error) {
	if bytesPerPixel != 3 && bytesPerPixel != 4 {
		return nil, fmt.Errorf("unsupported bytes per pixel: %d", bytesPerPixel)
	}
	if padBytes <= 0 {
		padBytes = 1
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	unpadded := w * bytesPerPixel
	stride := ((unpadded + padBytes - 1) / padBytes) * padBytes

	size := stride * h
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]
	clear(buf)

	for y := 0; y < h; y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := buf[y*stride:]
		for x := 0; x < w; x++ {
			s, d := x*4, x*bytesPerPixel
			dst[d] = src[s+2]   // B
			dst[d+1] = src[s+1] // G
			dst[d+2] = src[s]   // R
			if bytesPerPixel == 4 && withAlpha {
				dst[d+3] = src[s+3]
			}
		}
	}
	return buf, nil
}

// Name returns the output type name
func (x *X11Output) Name() string {
	return "X11 Window"
}

// IsRunning returns true if the window is up
func (x *X11Output) IsRunning() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.running
}

// WindowID returns the output window ID
func (x *X11Output) WindowID() uint32 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return uint32(x.window)
}

func (x *X11Output) setWindowTitle(title string) error {
	titleAtom, err := x.getAtom("_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8Atom, err := x.getAtom("UTF8_STRING")
	if err != nil {
		return err
	}

	return xproto.ChangePropertyChecked(
		x.conn,
		xproto.PropModeReplace,
		x.window,
		titleAtom,
		utf8Atom,
		8,
		uint32(len(title)),
		[]byte(title),
	).Check()
}

func (x *X11Output) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(x.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}
