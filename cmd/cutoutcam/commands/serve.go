package commands

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/CutoutCam/internal/api"
	"github.com/bryanchriswhite/CutoutCam/internal/capture"
	"github.com/bryanchriswhite/CutoutCam/internal/engine"
	"github.com/bryanchriswhite/CutoutCam/internal/logger"
	"github.com/bryanchriswhite/CutoutCam/internal/output"
	"github.com/bryanchriswhite/CutoutCam/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start capturing and serve the composited feed",
	Long: `Start a CutoutCam session: the capture source feeds the segmentation
engine, each frame is composited against its mask and the presentation is
streamed over HTTP.

The placeholder is shown until the first frame composites successfully,
then crossfades to the live feed.`,
	Example: `  # Start with the synthetic source on the default port (8080)
  cutoutcam serve

  # Start on a custom port
  cutoutcam serve --port 9090

  # Start with a specific config file and an X11 preview window
  CUTOUTCAM_OUTPUT_X11=true cutoutcam serve --config /path/to/config.yaml

  # Start with debug logging
  cutoutcam serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.WithComponent("serve")

	size := image.Pt(cfg.Output.Width, cfg.Output.Height)
	src, err := capture.NewSource(cfg.Capture, size)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg.Engine)
	if err != nil {
		return err
	}

	mjpegOut := output.NewMJPEGOutput(output.Config{
		Width:  cfg.Presentation.CanvasWidth,
		Height: cfg.Presentation.CanvasHeight,
		FPS:    cfg.Output.FPS,
	})
	outs := []output.Output{mjpegOut}
	if cfg.Output.X11 {
		outs = append(outs, output.NewX11Output(output.Config{
			Width:  cfg.Presentation.CanvasWidth,
			Height: cfg.Presentation.CanvasHeight,
			FPS:    cfg.Output.FPS,
		}, "CutoutCam"))
	}

	sess, err := session.New(cfg, src, eng, session.WithOutputs(outs...))
	if err != nil {
		eng.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Start(ctx); err != nil {
		sess.Stop()
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.Stop()

	server := api.NewServer(sess, mjpegOut)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.Server.Port)
	}()

	log.Info().
		Str("session", sess.ID()).
		Str("source", src.Name()).
		Str("engine", eng.Name()).
		Msgf("CutoutCam is running: http://localhost:%d", cfg.Server.Port)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
	case <-sess.Done():
		log.Warn().Msg("Capture source ended, shutting down")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown error")
	}
	return nil
}
