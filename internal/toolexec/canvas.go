package toolexec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"
)

// RunScript evaluates a small sandboxed scripting language for
// run_javascript (SPEC_FULL §4.6). No pack repo vendors a JS engine
// (dop251/goja, robertkrimen/otto, etc. do not appear in any example
// go.mod), so rather than fabricate that dependency this interprets a
// deliberately restricted subset covering the spec's only required
// surface: numeric/string expressions and a 2D canvas primitive. It is not
// ECMAScript — no closures, objects, or control flow beyond straight-line
// statements — which is why the spec calls this tool "optional".
//
// Supported grammar, one statement per line or semicolon:
//
//	let NAME = EXPR
//	NAME = EXPR
//	NAME.prop = EXPR
//	NAME.method(ARGS)
//	EXPR
//
// The only built-in is getCanvas(w, h), and the only object with methods
// is its return value (fillRect, strokeRect, clearRect; fillStyle and
// strokeStyle are settable string properties). When the script declares a
// canvas, its final bitmap is rasterized, PNG-encoded, and stored via the
// artifact store; the result's "images" field carries the resulting ref.
func RunScript(ctx context.Context, tc ToolContext, script string) (map[string]any, error) {
	interp := newInterpreter()
	if err := interp.run(script); err != nil {
		return nil, err
	}

	result := map[string]any{}
	var images []string
	for _, v := range interp.vars {
		cv, ok := v.(*canvasValue)
		if !ok {
			continue
		}
		ref, err := exportCanvas(ctx, tc, cv)
		if err != nil {
			return nil, err
		}
		images = append(images, ref)
	}
	if images != nil {
		result["images"] = images
	}
	if interp.lastValue != nil {
		result["result"] = interp.lastValue
	}
	return result, nil
}

type drawOp struct {
	kind  string // "fill" | "stroke" | "clear"
	x, y  int
	w, h  int
	color color.RGBA
}

type canvasValue struct {
	width, height int
	fillStyle     string
	strokeStyle   string
	ops           []drawOp
}

func newCanvas(w, h int) *canvasValue {
	return &canvasValue{width: w, height: h, fillStyle: "#000000", strokeStyle: "#000000"}
}

func exportCanvas(ctx context.Context, tc ToolContext, cv *canvasValue) (string, error) {
	img := image.NewRGBA(image.Rect(0, 0, cv.width, cv.height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	for _, op := range cv.ops {
		rect := image.Rect(op.x, op.y, op.x+op.w, op.y+op.h).Intersect(img.Bounds())
		switch op.kind {
		case "fill", "stroke":
			draw.Draw(img, rect, image.NewUniform(op.color), image.Point{}, draw.Src)
		case "clear":
			draw.Draw(img, rect, image.NewUniform(color.White), image.Point{}, draw.Src)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode canvas png: %w", err)
	}
	filename, err := tc.ArtifactStore.SaveImage(ctx, buf.Bytes(), nil)
	if err != nil {
		return "", fmt.Errorf("save canvas artifact: %w", err)
	}
	return filename, nil
}

func parseColor(s string) color.RGBA {
	s = strings.TrimSpace(s)
	if named, ok := namedColors[strings.ToLower(s)]; ok {
		return named
	}
	if strings.HasPrefix(s, "#") {
		hex := strings.TrimPrefix(s, "#")
		if len(hex) == 6 {
			r, _ := strconv.ParseUint(hex[0:2], 16, 8)
			g, _ := strconv.ParseUint(hex[2:4], 16, 8)
			b, _ := strconv.ParseUint(hex[4:6], 16, 8)
			return color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255}
		}
	}
	return color.RGBA{A: 255}
}

var namedColors = map[string]color.RGBA{
	"black": {A: 255},
	"white": {R: 255, G: 255, B: 255, A: 255},
	"red":   {R: 255, A: 255},
	"green": {G: 128, A: 255},
	"blue":  {B: 255, A: 255},
}
