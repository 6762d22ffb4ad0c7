//go:build js && wasm

package main

import (
	"encoding/json"
	"syscall/js"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/canvas"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/diagram"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/geometry"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/input"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/workspace"
)

var (
	ws          *workspace.Workspace
	onShapeMove js.Value
)

// jsMutator forwards committed moves to the callback registered with onShapeMove.
type jsMutator struct{}

func (jsMutator) MoveShape(id diagram.ShapeID, x, y float64, _ ...diagram.MoveOption) bool {
	if onShapeMove.Type() != js.TypeFunction {
		return false
	}
	onShapeMove.Invoke(int64(id), x, y)
	return true
}

func main() {
	var err error
	ws, err = workspace.New(workspace.Config{Editor: jsMutator{}})
	if err != nil {
		panic(err)
	}

	api := js.Global().Get("Object").New()

	// --- Commands ---
	api.Set("onShapeMove", js.FuncOf(setShapeMoveCallback))
	api.Set("setTransform", js.FuncOf(setTransform))
	api.Set("sync", js.FuncOf(syncDiagram))
	api.Set("pointerDown", js.FuncOf(pointerHandler(ws.PointerDown)))
	api.Set("pointerMove", js.FuncOf(pointerHandler(ws.PointerMove)))
	api.Set("pointerUp", js.FuncOf(pointerHandler(ws.PointerUp)))
	api.Set("wheel", js.FuncOf(wheel))
	api.Set("keyDown", js.FuncOf(keyHandler(ws.KeyDown)))
	api.Set("keyUp", js.FuncOf(keyHandler(ws.KeyUp)))
	api.Set("blur", js.FuncOf(blur))
	api.Set("stopEditing", js.FuncOf(stopEditing))

	// --- Queries ---
	api.Set("transform", js.FuncOf(transform))
	api.Set("toCanvas", js.FuncOf(pointQuery(ws.Canvas().ToCanvas)))
	api.Set("toScreen", js.FuncOf(pointQuery(ws.Canvas().ToScreen)))
	api.Set("shapePosition", js.FuncOf(shapePosition))
	api.Set("connectorPath", js.FuncOf(connectorPath))
	api.Set("path", js.FuncOf(path))
	api.Set("mode", js.FuncOf(mode))

	js.Global().Set("inadialogWorkspace", api)
	js.Global().Set("inadialogWasmReady", js.ValueOf(true))

	select {}
}

func errorResult(message string) js.Value {
	return js.ValueOf(map[string]interface{}{"error": message})
}

func okResult() js.Value {
	return js.ValueOf(map[string]interface{}{"ok": true})
}

func pointResult(point geometry.Point) js.Value {
	return js.ValueOf(map[string]interface{}{"x": point.X, "y": point.Y})
}

func setShapeMoveCallback(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 || args[0].Type() != js.TypeFunction {
		return errorResult("missing callback")
	}
	onShapeMove = args[0]
	return okResult()
}

func setTransform(this js.Value, args []js.Value) interface{} {
	if len(args) < 6 {
		return errorResult("expected a, b, c, d, e, f")
	}
	var matrix canvas.Matrix2D
	for index := range matrix {
		matrix[index] = args[index].Float()
	}
	ws.Canvas().SetTransform(matrix)
	return okResult()
}

func syncDiagram(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("missing diagram JSON")
	}
	var doc diagram.Diagram
	if err := json.Unmarshal([]byte(args[0].String()), &doc); err != nil {
		return errorResult(err.Error())
	}
	ws.Sync(doc)
	return okResult()
}

func pointerHandler(handle func(input.PointerEvent)) func(js.Value, []js.Value) interface{} {
	return func(this js.Value, args []js.Value) interface{} {
		if len(args) < 4 {
			return nil
		}
		handle(input.PointerEvent{
			PointerID: args[0].Int(),
			Target:    args[1].String(),
			Position:  geometry.Point{X: args[2].Float(), Y: args[3].Float()},
		})
		return nil
	}
}

func wheel(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return js.ValueOf(false)
	}
	return js.ValueOf(ws.Wheel(workspace.WheelEvent{
		Position: geometry.Point{X: args[0].Float(), Y: args[1].Float()},
		DeltaY:   args[2].Float(),
	}))
}

func keyHandler(handle func(string) bool) func(js.Value, []js.Value) interface{} {
	return func(this js.Value, args []js.Value) interface{} {
		if len(args) < 1 {
			return js.ValueOf(false)
		}
		return js.ValueOf(handle(args[0].String()))
	}
}

func blur(this js.Value, args []js.Value) interface{} {
	ws.Blur()
	return nil
}

func stopEditing(this js.Value, args []js.Value) interface{} {
	ws.StopEditing()
	return nil
}

func mode(this js.Value, args []js.Value) interface{} {
	result := map[string]interface{}{"mode": ws.Mode().String()}
	if id, ok := ws.Editing(); ok {
		result["shape"] = int64(id)
	}
	return js.ValueOf(result)
}

func transform(this js.Value, args []js.Value) interface{} {
	matrix := ws.Canvas().Transform()
	values := make([]interface{}, len(matrix))
	for index, value := range matrix {
		values[index] = value
	}
	return js.ValueOf(values)
}

func pointQuery(mapPoint func(geometry.Point) geometry.Point) func(js.Value, []js.Value) interface{} {
	return func(this js.Value, args []js.Value) interface{} {
		if len(args) < 2 {
			return errorResult("expected x, y")
		}
		return pointResult(mapPoint(geometry.Point{X: args[0].Float(), Y: args[1].Float()}))
	}
}

func shapePosition(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return nil
	}
	position, ok := ws.Registry().Position(diagram.ShapeID(args[0].Int()))
	if !ok {
		return nil
	}
	return pointResult(position)
}

func connectorPath(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf("")
	}
	var relation diagram.Relation
	if err := json.Unmarshal([]byte(args[0].String()), &relation); err != nil {
		return js.ValueOf("")
	}
	return js.ValueOf(ws.ConnectorPath(relation))
}

func path(this js.Value, args []js.Value) interface{} {
	if len(args) < 4 {
		return js.ValueOf("")
	}
	start := geometry.Point{X: args[0].Float(), Y: args[1].Float()}
	end := geometry.Point{X: args[2].Float(), Y: args[3].Float()}
	return js.ValueOf(geometry.Path(start, end))
}
