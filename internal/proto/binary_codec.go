package proto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/nplex/tracecoord/internal/raygeom"
)

// BinaryCodec is the version-1 wire codec: a compact, variable-length
// integer based encoding with field order equal to declaration order.
// Integers (kinds, lengths, counts, the frame number) are protobuf-style
// unsigned varints via encoding/binary's Uvarint helpers; floats are fixed
// 8-byte IEEE-754 since a variable-length encoding buys nothing for them.
// No pack example hand-rolls a richer binary protocol than this for a
// message set this small, so there's no third-party codec worth pulling in
// over the standard library here.
type BinaryCodec struct{}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func putFloat64(buf *bytes.Buffer, f float64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(f))
	buf.Write(tmp[:])
}

func putBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func putVec3(buf *bytes.Buffer, v raygeom.Vec3) {
	putFloat64(buf, v.X)
	putFloat64(buf, v.Y)
	putFloat64(buf, v.Z)
}

func readUvarint(r io.ByteReader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func readFloat64(r *bytes.Reader) (float64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(tmp[:])), nil
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func readVec3(r *bytes.Reader) (raygeom.Vec3, error) {
	x, err := readFloat64(r)
	if err != nil {
		return raygeom.Vec3{}, err
	}
	y, err := readFloat64(r)
	if err != nil {
		return raygeom.Vec3{}, err
	}
	z, err := readFloat64(r)
	if err != nil {
		return raygeom.Vec3{}, err
	}
	return raygeom.Vec3{X: x, Y: y, Z: z}, nil
}

// EncodeRequest implements Codec.
func (BinaryCodec) EncodeRequest(r Request) ([]byte, error) {
	var buf bytes.Buffer
	putUvarint(&buf, uint64(r.Kind))
	switch r.Kind {
	case ReserveRays:
		// no fields
	case SetName:
		putUvarint(&buf, uint64(len(r.Name)))
		buf.WriteString(r.Name)
	case SubmitResults:
		putUvarint(&buf, uint64(len(r.Results)))
		for _, res := range r.Results {
			putBool(&buf, res.Hit)
			putBool(&buf, res.Color != nil)
			if res.Color != nil {
				putVec3(&buf, *res.Color)
			}
		}
	default:
		return nil, fmt.Errorf("proto: unknown request kind %d", r.Kind)
	}
	return buf.Bytes(), nil
}

// DecodeRequest implements Codec.
func (BinaryCodec) DecodeRequest(data []byte) (Request, error) {
	r := bytes.NewReader(data)
	kindVal, err := readUvarint(r)
	if err != nil {
		return Request{}, fmt.Errorf("proto: decode request kind: %w", err)
	}
	kind := RequestKind(kindVal)
	req := Request{Kind: kind}
	switch kind {
	case ReserveRays:
	case SetName:
		n, err := readUvarint(r)
		if err != nil {
			return Request{}, err
		}
		name := make([]byte, n)
		if _, err := io.ReadFull(r, name); err != nil {
			return Request{}, err
		}
		req.Name = string(name)
	case SubmitResults:
		count, err := readUvarint(r)
		if err != nil {
			return Request{}, err
		}
		req.Results = make([]Result, 0, count)
		for i := uint64(0); i < count; i++ {
			hit, err := readBool(r)
			if err != nil {
				return Request{}, err
			}
			hasColor, err := readBool(r)
			if err != nil {
				return Request{}, err
			}
			var color *raygeom.Vec3
			if hasColor {
				v, err := readVec3(r)
				if err != nil {
					return Request{}, err
				}
				color = &v
			}
			req.Results = append(req.Results, Result{Hit: hit, Color: color})
		}
	default:
		return Request{}, fmt.Errorf("proto: unknown request kind %d", kindVal)
	}
	return req, nil
}

// EncodeResponse implements Codec.
func (BinaryCodec) EncodeResponse(r Response) ([]byte, error) {
	var buf bytes.Buffer
	putUvarint(&buf, uint64(r.Kind))
	switch r.Kind {
	case RespReserveRays:
		putUvarint(&buf, uint64(len(r.Rays)))
		for _, ray := range r.Rays {
			putVec3(&buf, ray.Origin)
			putVec3(&buf, ray.Direction)
		}
		putUvarint(&buf, r.Scene.Frame)
		putUvarint(&buf, uint64(len(r.Scene.Spheres)))
		for _, s := range r.Scene.Spheres {
			putVec3(&buf, s.Center)
			putFloat64(&buf, float64(s.Radius))
		}
	case RespSetName, RespSubmitResults:
		// no fields
	default:
		return nil, fmt.Errorf("proto: unknown response kind %d", r.Kind)
	}
	return buf.Bytes(), nil
}

// DecodeResponse implements Codec.
func (BinaryCodec) DecodeResponse(data []byte) (Response, error) {
	r := bytes.NewReader(data)
	kindVal, err := readUvarint(r)
	if err != nil {
		return Response{}, fmt.Errorf("proto: decode response kind: %w", err)
	}
	kind := ResponseKind(kindVal)
	resp := Response{Kind: kind}
	switch kind {
	case RespReserveRays:
		rayCount, err := readUvarint(r)
		if err != nil {
			return Response{}, err
		}
		resp.Rays = make([]raygeom.Ray, 0, rayCount)
		for i := uint64(0); i < rayCount; i++ {
			origin, err := readVec3(r)
			if err != nil {
				return Response{}, err
			}
			dir, err := readVec3(r)
			if err != nil {
				return Response{}, err
			}
			resp.Rays = append(resp.Rays, raygeom.Ray{Origin: origin, Direction: dir})
		}
		frame, err := readUvarint(r)
		if err != nil {
			return Response{}, err
		}
		resp.Scene.Frame = frame
		sphereCount, err := readUvarint(r)
		if err != nil {
			return Response{}, err
		}
		resp.Scene.Spheres = make([]raygeom.Sphere, 0, sphereCount)
		for i := uint64(0); i < sphereCount; i++ {
			center, err := readVec3(r)
			if err != nil {
				return Response{}, err
			}
			radius, err := readFloat64(r)
			if err != nil {
				return Response{}, err
			}
			resp.Scene.Spheres = append(resp.Scene.Spheres, raygeom.Sphere{Center: center, Radius: float32(radius)})
		}
	case RespSetName, RespSubmitResults:
	default:
		return Response{}, fmt.Errorf("proto: unknown response kind %d", kindVal)
	}
	return resp, nil
}
