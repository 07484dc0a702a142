package proto

import (
	"encoding/json"
	"fmt"

	"github.com/nplex/tracecoord/internal/raygeom"
)

// JSONCodec is the version-0 wire codec. encoding/json is the idiomatic
// choice for a plain tagged-union-over-JSON protocol like this one.
type JSONCodec struct{}

type wireResult struct {
	Hit   bool          `json:"hit"`
	Color *raygeom.Vec3 `json:"color,omitempty"`
}

type wireRequest struct {
	Kind    string       `json:"kind"`
	Name    string       `json:"name,omitempty"`
	Results []wireResult `json:"results,omitempty"`
}

type wireSphere struct {
	Center raygeom.Vec3 `json:"center"`
	Radius float32      `json:"radius"`
}

type wireScene struct {
	Frame   uint64       `json:"frame"`
	Spheres []wireSphere `json:"spheres"`
}

type wireRay struct {
	Origin    raygeom.Vec3 `json:"origin"`
	Direction raygeom.Vec3 `json:"direction"`
}

type wireResponse struct {
	Kind  string    `json:"kind"`
	Rays  []wireRay `json:"rays,omitempty"`
	Scene wireScene `json:"scene,omitempty"`
}

func requestKindName(k RequestKind) (string, error) {
	switch k {
	case ReserveRays:
		return "reserve_rays", nil
	case SetName:
		return "set_name", nil
	case SubmitResults:
		return "submit_results", nil
	default:
		return "", fmt.Errorf("proto: unknown request kind %d", k)
	}
}

func parseRequestKind(s string) (RequestKind, error) {
	switch s {
	case "reserve_rays":
		return ReserveRays, nil
	case "set_name":
		return SetName, nil
	case "submit_results":
		return SubmitResults, nil
	default:
		return 0, fmt.Errorf("proto: unknown request kind %q", s)
	}
}

func responseKindName(k ResponseKind) (string, error) {
	switch k {
	case RespReserveRays:
		return "reserve_rays", nil
	case RespSetName:
		return "set_name", nil
	case RespSubmitResults:
		return "submit_results", nil
	default:
		return "", fmt.Errorf("proto: unknown response kind %d", k)
	}
}

func parseResponseKind(s string) (ResponseKind, error) {
	switch s {
	case "reserve_rays":
		return RespReserveRays, nil
	case "set_name":
		return RespSetName, nil
	case "submit_results":
		return RespSubmitResults, nil
	default:
		return 0, fmt.Errorf("proto: unknown response kind %q", s)
	}
}

// EncodeRequest implements Codec.
func (JSONCodec) EncodeRequest(r Request) ([]byte, error) {
	kind, err := requestKindName(r.Kind)
	if err != nil {
		return nil, err
	}
	w := wireRequest{Kind: kind, Name: r.Name}
	for _, res := range r.Results {
		w.Results = append(w.Results, wireResult{Hit: res.Hit, Color: res.Color})
	}
	return json.Marshal(w)
}

// DecodeRequest implements Codec.
func (JSONCodec) DecodeRequest(data []byte) (Request, error) {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return Request{}, fmt.Errorf("proto: decode request: %w", err)
	}
	kind, err := parseRequestKind(w.Kind)
	if err != nil {
		return Request{}, err
	}
	req := Request{Kind: kind, Name: w.Name}
	for _, res := range w.Results {
		req.Results = append(req.Results, Result{Hit: res.Hit, Color: res.Color})
	}
	return req, nil
}

// EncodeResponse implements Codec.
func (JSONCodec) EncodeResponse(r Response) ([]byte, error) {
	kind, err := responseKindName(r.Kind)
	if err != nil {
		return nil, err
	}
	w := wireResponse{Kind: kind}
	for _, ray := range r.Rays {
		w.Rays = append(w.Rays, wireRay{Origin: ray.Origin, Direction: ray.Direction})
	}
	w.Scene.Frame = r.Scene.Frame
	for _, s := range r.Scene.Spheres {
		w.Scene.Spheres = append(w.Scene.Spheres, wireSphere{Center: s.Center, Radius: s.Radius})
	}
	return json.Marshal(w)
}

// DecodeResponse implements Codec.
func (JSONCodec) DecodeResponse(data []byte) (Response, error) {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return Response{}, fmt.Errorf("proto: decode response: %w", err)
	}
	kind, err := parseResponseKind(w.Kind)
	if err != nil {
		return Response{}, err
	}
	resp := Response{Kind: kind, Scene: raygeom.Scene{Frame: w.Scene.Frame}}
	for _, ray := range w.Rays {
		resp.Rays = append(resp.Rays, raygeom.Ray{Origin: ray.Origin, Direction: ray.Direction})
	}
	for _, s := range w.Scene.Spheres {
		resp.Scene.Spheres = append(resp.Scene.Spheres, raygeom.Sphere{Center: s.Center, Radius: s.Radius})
	}
	return resp, nil
}
