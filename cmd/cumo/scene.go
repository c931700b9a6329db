package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/HsiangNianian/cumo/internal/pcd"
	"github.com/HsiangNianian/cumo/viewer"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// runScene clears the page, shows the point cloud with axes and labels, and
// re-sends the cloud whenever the file changes.
func runScene(ctx context.Context, v *viewer.Viewer, pcdPath, screenshotDir string) error {
	log.Infof("setup scene: file=%s", pcdPath)
	if err := v.RemoveAllObjects(ctx); err != nil {
		return err
	}
	if err := v.RemoveAllCustomControls(ctx); err != nil {
		return err
	}

	cloudID, radius, err := sendFile(ctx, v, pcdPath)
	if err != nil {
		return err
	}
	if err := drawAxes(ctx, v, pcdPath); err != nil {
		return err
	}
	height := float32(radius * 2)
	if err := v.SetOrthographicCamera(ctx, &height); err != nil {
		return err
	}

	if _, err := v.AddCustomButton(ctx, "start", viewer.CustomRootID, func(uuid.UUID, viewer.ControlValue) {
		takeScreenshots(ctx, v, screenshotDir)
	}); err != nil {
		return err
	}
	if _, err := v.AddKeyUpHandler(ctx, func(_ uuid.UUID, ev viewer.KeyboardEvent) {
		if ev.Code == "KeyA" {
			takeScreenshots(ctx, v, screenshotDir)
		}
	}); err != nil {
		return err
	}
	log.Infof("resize the window and press the \"start\" button (or the A key) to save screenshots")

	return watchFile(ctx, pcdPath, func() {
		newID, _, err := sendFile(ctx, v, pcdPath)
		if err != nil {
			log.Warnf("reload point cloud failed: file=%s err=%v", pcdPath, err)
			return
		}
		if err := v.RemoveObject(ctx, cloudID); err != nil {
			log.Warnf("remove previous point cloud failed: id=%s err=%v", cloudID, err)
		}
		log.Infof("reloaded point cloud: file=%s old=%s new=%s", pcdPath, cloudID, newID)
		cloudID = newID
	})
}

// sendFile uploads the cloud and returns its id and the distance of its
// farthest point from the origin.
func sendFile(ctx context.Context, v *viewer.Viewer, pcdPath string) (uuid.UUID, float64, error) {
	data, err := os.ReadFile(pcdPath)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("read pcd failed: %w", err)
	}
	radius := 1.0
	if cloud, err := pcd.Decode(data); err == nil && cloud.Len() > 0 {
		radius = 0
		for _, p := range cloud.Points {
			radius = math.Max(radius, math.Sqrt(float64(p[0])*float64(p[0])+float64(p[1])*float64(p[1])+float64(p[2])*float64(p[2])))
		}
		if radius == 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
			radius = 1
		}
	}
	id, err := v.SendPointCloudPCD(ctx, data, viewer.PointCloudOptions{})
	if err != nil {
		return uuid.Nil, 0, err
	}
	log.Infof("sent point cloud: file=%s id=%s", pcdPath, id)
	return id, radius, nil
}

func drawAxes(ctx context.Context, v *viewer.Viewer, label string) error {
	const s = 0.1
	points := [][3]float32{{0, 0, 0}, {2 * s, 0, 0}, {0, 2 * s, 0}, {0, 0, 2 * s}}
	lines := [][2]uint32{{0, 1}, {0, 2}, {0, 3}}
	colors := [][3]uint8{{255, 0, 0}, {0, 255, 0}, {0, 0, 255}}
	if _, err := v.SendLineSet(ctx, points, lines, colors, []float32{5, 5, 5}); err != nil {
		return err
	}
	for i, name := range []string{"x", "y", "z"} {
		p := points[i+1]
		style := fmt.Sprintf("color: rgb(%d,%d,%d)", colors[i][0], colors[i][1], colors[i][2])
		if _, err := v.SendOverlayText(ctx, name, viewer.Vec3{X: p[0], Y: p[1], Z: p[2]}, false, style); err != nil {
			return err
		}
	}
	_, err := v.SendOverlayText(ctx, label, viewer.Vec3{X: 10, Y: 10}, true, "font-family: monospace")
	return err
}

func takeScreenshots(ctx context.Context, v *viewer.Viewer, dir string) {
	views := []struct {
		pos  viewer.Vec3
		name string
	}{
		{viewer.Vec3{X: 1}, "screenshot_x.png"},
		{viewer.Vec3{Y: 1}, "screenshot_y.png"},
		{viewer.Vec3{Z: 1}, "screenshot_z.png"},
	}
	for _, view := range views {
		if err := v.SetCameraPosition(ctx, view.pos); err != nil {
			log.Warnf("set camera failed: err=%v", err)
			return
		}
		// up is the position rotated one axis forward so it never lies on the line of sight
		up := viewer.Vec3{X: view.pos.Y, Y: view.pos.Z, Z: view.pos.X}
		if err := v.SetCameraRoll(ctx, 0, up); err != nil {
			log.Warnf("set camera roll failed: err=%v", err)
			return
		}
		data, err := v.CaptureScreen(ctx)
		if err != nil {
			log.Warnf("capture screen failed: err=%v", err)
			return
		}
		path := filepath.Join(dir, view.name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.Warnf("save screenshot failed: path=%s err=%v", path, err)
			return
		}
		log.Infof("saved: %s", path)
	}
}

// watchFile calls reload after every write to path until ctx is done. The
// parent directory is watched so editors that replace the file by rename
// are followed too.
func watchFile(ctx context.Context, path string, reload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher failed: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s failed: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			log.Debugf("point cloud file changed: op=%s", ev.Op)
			reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("watch file failed: err=%v", err)
		}
	}
}
