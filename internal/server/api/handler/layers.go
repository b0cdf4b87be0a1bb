package handler

import (
	"log/slog"

	"github.com/Alia5/kbdfw/apitypes"
	"github.com/Alia5/kbdfw/firmware"
	"github.com/Alia5/kbdfw/internal/server/api"
	"github.com/Alia5/kbdfw/layer"
	"github.com/Alia5/kbdfw/resolver"
)

// LayerOp changes the layer stack of a resolver.
type LayerOp func(r *resolver.Resolver, n uint8)

var (
	LayerEnable  LayerOp = func(r *resolver.Resolver, n uint8) { r.Layers().Enable(n) }
	LayerDisable LayerOp = func(r *resolver.Resolver, n uint8) { r.Layers().Disable(n) }
	LayerToggle  LayerOp = func(r *resolver.Resolver, n uint8) { r.Layers().Toggle(n) }
	LayerBase    LayerOp = func(r *resolver.Resolver, n uint8) { r.Layers().SetBase(n) }
)

func layersOf(s *layer.Stack) apitypes.LayersResponse {
	out := apitypes.LayersResponse{Base: s.Base(), Mask: s.Mask(), Highest: s.HighestActive(), Enabled: []uint8{}}
	for n := uint8(0); n <= layer.MaxLayers; n++ {
		if s.Enabled(n) {
			out.Enabled = append(out.Enabled, n)
		}
	}
	return out
}

// Layers returns the layer stack.
func Layers(fw *firmware.Firmware) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		var out apitypes.LayersResponse
		if err := fw.Do(req.Ctx, func(r *resolver.Resolver) { out = layersOf(r.Layers()) }); err != nil {
			return firmwareError(err)
		}
		return respond(res, out)
	}
}

// LayerCommand applies op to the layer number in the payload.
func LayerCommand(fw *firmware.Firmware, op LayerOp) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		n, err := parseLayer(req.Payload)
		if err != nil {
			return err
		}
		var out apitypes.LayersResponse
		if err := fw.Do(req.Ctx, func(r *resolver.Resolver) {
			op(r, n)
			out = layersOf(r.Layers())
		}); err != nil {
			return firmwareError(err)
		}
		return respond(res, out)
	}
}

// LayersReset returns to the default base with no layers above it.
func LayersReset(fw *firmware.Firmware) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		var out apitypes.LayersResponse
		if err := fw.Do(req.Ctx, func(r *resolver.Resolver) {
			r.ResetLayers()
			out = layersOf(r.Layers())
		}); err != nil {
			return firmwareError(err)
		}
		return respond(res, out)
	}
}
