// Package pcd converts point arrays to and from the PCD v0.7 format the
// viewer's loader understands.
package pcd

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

var (
	ErrLengthMismatch = errors.New("rgb length does not match xyz length")
	ErrUnsupported    = errors.New("unsupported pcd data")
)

// Cloud holds points as x, y, z and a packed rgb value in the fourth slot.
// The fourth slot is ignored when HasRGB is false.
type Cloud struct {
	Points [][4]float32
	HasRGB bool
}

func (c *Cloud) Len() int {
	return len(c.Points)
}

// PackRGB packs r<<16|g<<8|b into the bits of a float32, the PCD convention
// for the rgb field.
func PackRGB(r, g, b uint8) float32 {
	return math.Float32frombits(uint32(r)<<16 | uint32(g)<<8 | uint32(b))
}

func UnpackRGB(v float32) (r, g, b uint8) {
	bits := math.Float32bits(v)
	return uint8(bits >> 16), uint8(bits >> 8), uint8(bits)
}

// Encode builds a binary PCD from coordinates and optional per-point colors.
func Encode(xyz [][3]float32, rgb [][3]uint8) ([]byte, error) {
	c, err := NewCloud(xyz, rgb)
	if err != nil {
		return nil, err
	}
	return c.Marshal(), nil
}

// EncodeXYZRGB builds a binary PCD from points whose fourth value is already
// a packed rgb float.
func EncodeXYZRGB(points [][4]float32) []byte {
	c := &Cloud{Points: points, HasRGB: true}
	return c.Marshal()
}

func NewCloud(xyz [][3]float32, rgb [][3]uint8) (*Cloud, error) {
	if rgb != nil && len(rgb) != len(xyz) {
		return nil, fmt.Errorf("%w: xyz=%d rgb=%d", ErrLengthMismatch, len(xyz), len(rgb))
	}
	c := &Cloud{Points: make([][4]float32, len(xyz)), HasRGB: rgb != nil}
	for i, p := range xyz {
		c.Points[i] = [4]float32{p[0], p[1], p[2]}
		if rgb != nil {
			c.Points[i][3] = PackRGB(rgb[i][0], rgb[i][1], rgb[i][2])
		}
	}
	return c, nil
}

// Marshal writes the cloud as an unorganized binary PCD.
func (c *Cloud) Marshal() []byte {
	fields := 3
	var buf bytes.Buffer
	buf.WriteString("# .PCD v0.7 - Point Cloud Data file format\n")
	buf.WriteString("VERSION 0.7\n")
	if c.HasRGB {
		fields = 4
		buf.WriteString("FIELDS x y z rgb\nSIZE 4 4 4 4\nTYPE F F F F\nCOUNT 1 1 1 1\n")
	} else {
		buf.WriteString("FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n")
	}
	fmt.Fprintf(&buf, "WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA binary\n", len(c.Points), len(c.Points))

	body := make([]byte, len(c.Points)*fields*4)
	off := 0
	for _, p := range c.Points {
		for i := 0; i < fields; i++ {
			binary.LittleEndian.PutUint32(body[off:], math.Float32bits(p[i]))
			off += 4
		}
	}
	buf.Write(body)
	return buf.Bytes()
}

type field struct {
	name  string
	size  int
	typ   byte
	count int
}

type header struct {
	fields []field
	points int
	data   string
}

// Decode parses an ascii or binary PCD holding at least x, y and z. An rgb
// field, when present, is carried as its raw bits. Compressed data is not
// supported.
func Decode(data []byte) (*Cloud, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	idx := map[string]int{}
	for i, f := range h.fields {
		idx[f.name] = i
	}
	for _, name := range []string{"x", "y", "z"} {
		i, ok := idx[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing field %s", ErrUnsupported, name)
		}
		if f := h.fields[i]; f.typ != 'F' || f.size != 4 {
			return nil, fmt.Errorf("%w: field %s must be F4", ErrUnsupported, name)
		}
	}
	rgbIdx, hasRGB := idx["rgb"]
	if !hasRGB {
		rgbIdx, hasRGB = idx["rgba"]
	}
	if hasRGB && h.fields[rgbIdx].size != 4 {
		return nil, fmt.Errorf("%w: rgb must be 4 bytes", ErrUnsupported)
	}
	want := []int{idx["x"], idx["y"], idx["z"], -1}
	if hasRGB {
		want[3] = rgbIdx
	}

	c := &Cloud{Points: make([][4]float32, 0, h.points), HasRGB: hasRGB}
	switch h.data {
	case "binary":
		err = decodeBinary(r, h, want, c)
	case "ascii":
		err = decodeASCII(r, h, want, c)
	default:
		err = fmt.Errorf("%w: DATA %s", ErrUnsupported, h.data)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func readHeader(r *bufio.Reader) (*header, error) {
	h := &header{}
	var sizes, counts []int
	var types []byte
	for {
		line, err := r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return nil, fmt.Errorf("read pcd header failed: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		key, vals := strings.ToUpper(parts[0]), parts[1:]
		switch key {
		case "FIELDS":
			for _, v := range vals {
				h.fields = append(h.fields, field{name: v, count: 1})
			}
		case "SIZE":
			if sizes, err = atois(vals); err != nil {
				return nil, fmt.Errorf("parse SIZE failed: %w", err)
			}
		case "TYPE":
			for _, v := range vals {
				types = append(types, strings.ToUpper(v)[0])
			}
		case "COUNT":
			if counts, err = atois(vals); err != nil {
				return nil, fmt.Errorf("parse COUNT failed: %w", err)
			}
		case "POINTS":
			if len(vals) != 1 {
				return nil, fmt.Errorf("parse POINTS failed: %q", line)
			}
			if h.points, err = strconv.Atoi(vals[0]); err != nil {
				return nil, fmt.Errorf("parse POINTS failed: %w", err)
			}
		case "DATA":
			if len(vals) != 1 {
				return nil, fmt.Errorf("parse DATA failed: %q", line)
			}
			h.data = strings.ToLower(vals[0])
			if len(sizes) != len(h.fields) || len(types) != len(h.fields) {
				return nil, fmt.Errorf("%w: header field lists disagree", ErrUnsupported)
			}
			for i := range h.fields {
				h.fields[i].size = sizes[i]
				h.fields[i].typ = types[i]
				if counts != nil {
					if len(counts) != len(h.fields) {
						return nil, fmt.Errorf("%w: header field lists disagree", ErrUnsupported)
					}
					h.fields[i].count = counts[i]
				}
			}
			return h, nil
		}
	}
}

func atois(vals []string) ([]int, error) {
	out := make([]int, len(vals))
	for i, v := range vals {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func decodeBinary(r io.Reader, h *header, want []int, c *Cloud) error {
	offsets := make([]int, len(h.fields))
	stride := 0
	for i, f := range h.fields {
		offsets[i] = stride
		stride += f.size * f.count
	}
	record := make([]byte, stride)
	for n := 0; n < h.points; n++ {
		if _, err := io.ReadFull(r, record); err != nil {
			return fmt.Errorf("read point %d failed: %w", n, err)
		}
		var p [4]float32
		for slot, fi := range want {
			if fi < 0 {
				continue
			}
			p[slot] = math.Float32frombits(binary.LittleEndian.Uint32(record[offsets[fi]:]))
		}
		c.Points = append(c.Points, p)
	}
	return nil
}

func decodeASCII(r *bufio.Reader, h *header, want []int, c *Cloud) error {
	// token offset of each field's first value
	starts := make([]int, len(h.fields))
	total := 0
	for i, f := range h.fields {
		starts[i] = total
		total += f.count
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for len(c.Points) < h.points && scanner.Scan() {
		tokens := strings.Fields(scanner.Text())
		if len(tokens) == 0 {
			continue
		}
		if len(tokens) < total {
			return fmt.Errorf("point %d: want %d values, got %d", len(c.Points), total, len(tokens))
		}
		var p [4]float32
		for slot, fi := range want {
			if fi < 0 {
				continue
			}
			v, err := parseASCII(tokens[starts[fi]], h.fields[fi].typ)
			if err != nil {
				return fmt.Errorf("point %d field %s: %w", len(c.Points), h.fields[fi].name, err)
			}
			p[slot] = v
		}
		c.Points = append(c.Points, p)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ascii points failed: %w", err)
	}
	if len(c.Points) != h.points {
		return fmt.Errorf("want %d points, got %d", h.points, len(c.Points))
	}
	return nil
}

func parseASCII(tok string, typ byte) (float32, error) {
	switch typ {
	case 'U', 'I':
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return 0, err
		}
		return math.Float32frombits(uint32(n)), nil
	default:
		v, err := strconv.ParseFloat(tok, 32)
		return float32(v), err
	}
}
