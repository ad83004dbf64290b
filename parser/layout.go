package parser

// WidgetLayout maps the positional widgets_values array of a UI-format node
// onto named inputs.
type WidgetLayout struct {
	// Fields are the input names in widget order.
	Fields []string
	// MinLen is the shortest widgets_values array the layout applies to.
	// Zero means len(Fields).
	MinLen int
	// ControlAfter names the field that may be followed by ComfyUI's
	// control_after_generate widget. When set, a fixed, increment, decrement
	// or randomize value right after that field is skipped.
	ControlAfter string
}

var controlAfterGenerate = map[string]struct{}{
	"fixed":     {},
	"increment": {},
	"decrement": {},
	"randomize": {},
}

var defaultLayouts = map[string]WidgetLayout{
	"CLIPTextEncode":         {Fields: []string{"text"}},
	"CheckpointLoaderSimple": {Fields: []string{"ckpt_name"}},
	"CheckpointLoader":       {Fields: []string{"ckpt_name"}},
	"KSampler":               {Fields: []string{"seed", "steps", "cfg", "sampler_name", "scheduler"}},
	"KSamplerAdvanced":       {Fields: []string{"seed", "steps", "cfg", "sampler_name", "scheduler"}},
	"EmptyLatentImage":       {Fields: []string{"width", "height"}},
	"VAELoader":              {Fields: []string{"vae_name"}},
}

// seedControlled lists the layouts whose seed widget carries a
// control_after_generate companion in saved workflows.
var seedControlled = []string{"KSampler", "KSamplerAdvanced"}

// DefaultWidgetLayouts returns a copy of the built-in layout table.
func DefaultWidgetLayouts() map[string]WidgetLayout {
	retv := make(map[string]WidgetLayout, len(defaultLayouts))
	for k, v := range defaultLayouts {
		retv[k] = v
	}
	return retv
}

func (l WidgetLayout) minLen() int {
	if l.MinLen > 0 {
		return l.MinLen
	}
	return len(l.Fields)
}

// decode applies the layout to values and calls set for every mapped field in
// widget order. Arrays shorter than the layout's minimum contribute nothing.
func (l WidgetLayout) decode(values []interface{}, set func(name string, v interface{})) {
	if len(values) < l.minLen() {
		return
	}

	pos := 0
	for _, field := range l.Fields {
		if pos >= len(values) {
			return
		}
		set(field, values[pos])
		pos++

		if field == l.ControlAfter && pos < len(values) {
			if s, ok := values[pos].(string); ok {
				if _, isControl := controlAfterGenerate[s]; isControl {
					pos++
				}
			}
		}
	}
}
