package viewer

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"image"
	"image/png"
	"strings"

	"github.com/HsiangNianian/cumo/internal/pcd"
	"github.com/HsiangNianian/cumo/internal/protocol"
	"github.com/HsiangNianian/cumo/internal/store"
	"github.com/google/uuid"
)

type Vec3 struct {
	X, Y, Z float32
}

func (v Vec3) wire() protocol.VecXYZf {
	return protocol.VecXYZf{X: v.X, Y: v.Y, Z: v.Z}
}

// DownSample selects how large point clouds are reduced before sending.
type DownSample = pcd.DownSample

const (
	DownSampleNone   = pcd.None
	DownSampleRandom = pcd.RandomSample
	DownSampleVoxel  = pcd.VoxelGrid
)

// PointCloudOptions tunes a point cloud upload. The zero value uses point
// size 1 and the viewer's default down sampling.
type PointCloudOptions struct {
	PointSize  float32
	DownSample *DownSample
	MaxPoints  int
}

func (v *Viewer) cloudSettings(opts PointCloudOptions) (DownSample, int, float32) {
	ds := v.downSample
	if opts.DownSample != nil {
		ds = *opts.DownSample
	}
	maxPoints := opts.MaxPoints
	if maxPoints <= 0 {
		maxPoints = v.maxPoints
	}
	size := opts.PointSize
	if size <= 0 {
		size = 1
	}
	return ds, maxPoints, size
}

// SendPointCloud shows one point per xyz row. rgb is optional and must have
// one row per point.
func (v *Viewer) SendPointCloud(ctx context.Context, xyz [][3]float32, rgb [][3]uint8, opts PointCloudOptions) (uuid.UUID, error) {
	cloud, err := pcd.NewCloud(xyz, rgb)
	if err != nil {
		return uuid.Nil, invalid("rgb", err.Error())
	}
	return v.sendCloud(ctx, cloud, opts)
}

// SendPointCloudXYZRGB shows points whose fourth value is the packed color
// r<<16|g<<8|b stored in the bits of a float32.
func (v *Viewer) SendPointCloudXYZRGB(ctx context.Context, points [][4]float32, opts PointCloudOptions) (uuid.UUID, error) {
	return v.sendCloud(ctx, &pcd.Cloud{Points: points, HasRGB: true}, opts)
}

// SendPointCloudPCD shows a cloud already encoded as PCD. The data is sent
// untouched when down sampling is off, otherwise it is decoded and reduced
// first.
func (v *Viewer) SendPointCloudPCD(ctx context.Context, data []byte, opts PointCloudOptions) (uuid.UUID, error) {
	ds, _, size := v.cloudSettings(opts)
	if ds.Strategy == pcd.None {
		return v.sendPCD(ctx, data, size)
	}
	cloud, err := pcd.Decode(data)
	if err != nil {
		return uuid.Nil, invalid("pcd", err.Error())
	}
	return v.sendCloud(ctx, cloud, opts)
}

func (v *Viewer) sendCloud(ctx context.Context, cloud *pcd.Cloud, opts PointCloudOptions) (uuid.UUID, error) {
	ds, maxPoints, size := v.cloudSettings(opts)
	reduced, err := ds.Reduce(cloud, maxPoints, nil)
	if err != nil {
		return uuid.Nil, invalid("down_sample", err.Error())
	}
	if reduced.Len() != cloud.Len() {
		v.log.Debugf("down sample point cloud: strategy=%s from=%d to=%d", ds.Strategy, cloud.Len(), reduced.Len())
	}
	return v.sendPCD(ctx, reduced.Marshal(), size)
}

func (v *Viewer) sendPCD(ctx context.Context, data []byte, size float32) (uuid.UUID, error) {
	return v.create(ctx, &protocol.ServerCommand{AddObject: &protocol.AddObject{
		PointCloud: &protocol.PointCloud{PCDData: data, PointSize: size},
	}}, store.ScopeObject, "point_cloud")
}

// SendLineSet draws one segment per fromTo row between the indexed points.
// rgb (0-255 per channel) and widths are optional, one entry per segment.
func (v *Viewer) SendLineSet(ctx context.Context, xyz [][3]float32, fromTo [][2]uint32, rgb [][3]uint8, widths []float32) (uuid.UUID, error) {
	if rgb != nil && len(rgb) != len(fromTo) {
		return uuid.Nil, invalid("rgb", "must have one row per line")
	}
	if widths != nil && len(widths) != len(fromTo) {
		return uuid.Nil, invalid("widths", "must have one entry per line")
	}
	ls := &protocol.LineSet{
		Points:    points(xyz),
		FromIndex: make([]uint32, len(fromTo)),
		ToIndex:   make([]uint32, len(fromTo)),
		Widths:    widths,
	}
	for i, l := range fromTo {
		if int(l[0]) >= len(xyz) || int(l[1]) >= len(xyz) {
			return uuid.Nil, invalid("from_to", fmt.Sprintf("line %d references a point outside [0, %d)", i, len(xyz)))
		}
		ls.FromIndex[i], ls.ToIndex[i] = l[0], l[1]
	}
	for _, c := range rgb {
		ls.Colors = append(ls.Colors, protocol.VecRGBf{R: float32(c[0]), G: float32(c[1]), B: float32(c[2])})
	}
	return v.create(ctx, &protocol.ServerCommand{AddObject: &protocol.AddObject{LineSet: ls}}, store.ScopeObject, "line_set")
}

// SendMesh draws one triangle per indices row. rgb is optional, one row per
// vertex.
func (v *Viewer) SendMesh(ctx context.Context, xyz [][3]float32, indices [][3]uint32, rgb [][3]uint8) (uuid.UUID, error) {
	if rgb != nil && len(rgb) != len(xyz) {
		return uuid.Nil, invalid("rgb", "must have one row per vertex")
	}
	m := &protocol.Mesh{
		Points:       points(xyz),
		VertexAIndex: make([]uint32, len(indices)),
		VertexBIndex: make([]uint32, len(indices)),
		VertexCIndex: make([]uint32, len(indices)),
	}
	for i, tri := range indices {
		for _, idx := range tri {
			if int(idx) >= len(xyz) {
				return uuid.Nil, invalid("indices", fmt.Sprintf("triangle %d references a point outside [0, %d)", i, len(xyz)))
			}
		}
		m.VertexAIndex[i], m.VertexBIndex[i], m.VertexCIndex[i] = tri[0], tri[1], tri[2]
	}
	for _, c := range rgb {
		m.Colors = append(m.Colors, protocol.VecRGBf{R: float32(c[0]) / 255, G: float32(c[1]) / 255, B: float32(c[2]) / 255})
	}
	return v.create(ctx, &protocol.ServerCommand{AddObject: &protocol.AddObject{Mesh: m}}, store.ScopeObject, "mesh")
}

func points(xyz [][3]float32) []protocol.VecXYZf {
	out := make([]protocol.VecXYZf, len(xyz))
	for i, p := range xyz {
		out[i] = protocol.VecXYZf{X: p[0], Y: p[1], Z: p[2]}
	}
	return out
}

func coordinate(screen bool) protocol.CoordinateType {
	if screen {
		return protocol.ScreenCoordinate
	}
	return protocol.WorldCoordinate
}

// SendOverlayText pins text with its upper left corner at pos. With screen
// set, pos is in screen pixels and Z is ignored. style is appended to the
// element's style attribute.
func (v *Viewer) SendOverlayText(ctx context.Context, text string, pos Vec3, screen bool, style string) (uuid.UUID, error) {
	inner := strings.ReplaceAll(html.EscapeString(text), "\n", "<br />\n")
	markup := fmt.Sprintf(`<div style="color:white;mix-blend-mode:difference;%s">%s</div>`, html.EscapeString(style), inner)
	return v.create(ctx, &protocol.ServerCommand{AddObject: &protocol.AddObject{Overlay: &protocol.Overlay{
		Position: pos.wire(),
		Type:     coordinate(screen),
		HTML:     &markup,
	}}}, store.ScopeObject, "overlay_text")
}

// SendOverlayImage pins a png or jpeg image, width pixels wide, at pos.
func (v *Viewer) SendOverlayImage(ctx context.Context, data []byte, width uint32, pos Vec3, screen bool) (uuid.UUID, error) {
	if len(data) == 0 {
		return uuid.Nil, invalid("data", "must not be empty")
	}
	return v.create(ctx, &protocol.ServerCommand{AddObject: &protocol.AddObject{Overlay: &protocol.Overlay{
		Position: pos.wire(),
		Type:     coordinate(screen),
		Image:    &protocol.OverlayImage{Data: data, Width: width},
	}}}, store.ScopeObject, "overlay_image")
}

// SendOverlayPicture encodes img as png and pins it like SendOverlayImage.
func (v *Viewer) SendOverlayPicture(ctx context.Context, img image.Image, width uint32, pos Vec3, screen bool) (uuid.UUID, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return uuid.Nil, invalid("image", err.Error())
	}
	return v.SendOverlayImage(ctx, buf.Bytes(), width, pos, screen)
}

// SendImage pastes a png or jpeg image on the plane through three of its
// corners. With doubleSide the back face is drawn too.
func (v *Viewer) SendImage(ctx context.Context, data []byte, upperLeft, lowerLeft, lowerRight Vec3, doubleSide bool) (uuid.UUID, error) {
	if len(data) == 0 {
		return uuid.Nil, invalid("data", "must not be empty")
	}
	return v.create(ctx, &protocol.ServerCommand{AddObject: &protocol.AddObject{Image: &protocol.Image3D{
		Data:       data,
		UpperLeft:  upperLeft.wire(),
		LowerLeft:  lowerLeft.wire(),
		LowerRight: lowerRight.wire(),
		DoubleSide: doubleSide,
	}}}, store.ScopeObject, "image")
}

// RemoveObject deletes one object or overlay by id.
func (v *Viewer) RemoveObject(ctx context.Context, id uuid.UUID) error {
	if err := v.exec(ctx, &protocol.ServerCommand{RemoveObject: &protocol.RemoveObject{ByID: &id}}); err != nil {
		return err
	}
	v.forget(ctx, store.ScopeObject, &id)
	return nil
}

// RemoveAllObjects deletes every object and overlay.
func (v *Viewer) RemoveAllObjects(ctx context.Context) error {
	if err := v.exec(ctx, &protocol.ServerCommand{RemoveObject: &protocol.RemoveObject{All: ptr(true)}}); err != nil {
		return err
	}
	v.forget(ctx, store.ScopeObject, nil)
	return nil
}
