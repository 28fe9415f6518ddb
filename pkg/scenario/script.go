package scenario

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// LoadScript runs a Starlark scenario description and returns the
// Scenario it built. The script populates a module-level list named
// "frames", each entry a struct built with frame(pc=..., size=..., ...),
// and an "initial_sp" integer:
//
//	frames = [
//	    frame(pc=0x1000, size=0x40, cfa_offset=0x20, ra_offset=-8, personality="cxx", catches=False),
//	    frame(pc=0x2000, size=0x40, cfa_offset=0x30, ra_offset=-8, personality="cxx", catches=True),
//	]
//	initial_sp = 0x7fff0000
//
// This is the declarative counterpart to constructing a Scenario literal
// in Go: grounded on delve's own use of go.starlark.net to script `dlv`'s
// non-interactive command mode, generalized here from "a sequence of
// debugger commands" to "a sequence of synthetic stack frames".
func LoadScript(name string, src interface{}) (*Scenario, error) {
	thread := &starlark.Thread{Name: name}
	predeclared := starlark.StringDict{
		"frame": starlark.NewBuiltin("frame", builtinFrame),
	}

	globals, err := starlark.ExecFile(thread, name, src, predeclared)
	if err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}

	framesVal, ok := globals["frames"]
	if !ok {
		return nil, fmt.Errorf("scenario: script defines no \"frames\" list")
	}
	frameList, ok := framesVal.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("scenario: \"frames\" must be a list, got %s", framesVal.Type())
	}

	var sc Scenario
	iter := frameList.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		spec, err := frameSpecFromStruct(item)
		if err != nil {
			return nil, err
		}
		sc.Frames = append(sc.Frames, spec)
	}

	if spVal, ok := globals["initial_sp"]; ok {
		sp, err := toUint64(spVal)
		if err != nil {
			return nil, fmt.Errorf("scenario: initial_sp: %w", err)
		}
		sc.InitialSP = sp
	}

	return &sc, nil
}

func builtinFrame(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		pc, size, cfaOffset   starlark.Value
		raOffset              starlark.Value
		personality           starlark.String
		catches               starlark.Bool
	)
	if err := starlark.UnpackArgs("frame", args, kwargs,
		"pc", &pc, "size", &size, "cfa_offset", &cfaOffset, "ra_offset", &raOffset,
		"personality?", &personality, "catches?", &catches,
	); err != nil {
		return nil, err
	}
	return starlarkstruct.FromKeywords(starlarkstruct.Default, []starlark.Tuple{
		{starlark.String("pc"), pc},
		{starlark.String("size"), size},
		{starlark.String("cfa_offset"), cfaOffset},
		{starlark.String("ra_offset"), raOffset},
		{starlark.String("personality"), personality},
		{starlark.String("catches"), catches},
	}), nil
}

func frameSpecFromStruct(v starlark.Value) (FrameSpec, error) {
	s, ok := v.(*starlarkstruct.Struct)
	if !ok {
		return FrameSpec{}, fmt.Errorf("scenario: frames entries must come from frame(...), got %s", v.Type())
	}

	get := func(name string) (starlark.Value, error) { return s.Attr(name) }

	pc, err := get("pc")
	if err != nil {
		return FrameSpec{}, err
	}
	size, err := get("size")
	if err != nil {
		return FrameSpec{}, err
	}
	cfaOffset, err := get("cfa_offset")
	if err != nil {
		return FrameSpec{}, err
	}
	raOffset, err := get("ra_offset")
	if err != nil {
		return FrameSpec{}, err
	}

	pcU, err := toUint64(pc)
	if err != nil {
		return FrameSpec{}, fmt.Errorf("scenario: pc: %w", err)
	}
	sizeU, err := toUint64(size)
	if err != nil {
		return FrameSpec{}, fmt.Errorf("scenario: size: %w", err)
	}
	cfaU, err := toUint64(cfaOffset)
	if err != nil {
		return FrameSpec{}, fmt.Errorf("scenario: cfa_offset: %w", err)
	}
	raI, err := toInt64(raOffset)
	if err != nil {
		return FrameSpec{}, fmt.Errorf("scenario: ra_offset: %w", err)
	}

	spec := FrameSpec{PC: pcU, Size: sizeU, CFAOffset: cfaU, RAOffset: raI}

	if p, err := get("personality"); err == nil {
		if str, ok := p.(starlark.String); ok {
			spec.Personality = string(str)
		}
	}
	if c, err := get("catches"); err == nil {
		if b, ok := c.(starlark.Bool); ok {
			spec.Catches = bool(b)
		}
	}
	return spec, nil
}

func toUint64(v starlark.Value) (uint64, error) {
	i, ok := v.(starlark.Int)
	if !ok {
		return 0, fmt.Errorf("expected int, got %s", v.Type())
	}
	u, ok := i.Uint64()
	if !ok {
		return 0, fmt.Errorf("value out of range for uint64")
	}
	return u, nil
}

func toInt64(v starlark.Value) (int64, error) {
	i, ok := v.(starlark.Int)
	if !ok {
		return 0, fmt.Errorf("expected int, got %s", v.Type())
	}
	n, ok := i.Int64()
	if !ok {
		return 0, fmt.Errorf("value out of range for int64")
	}
	return n, nil
}
