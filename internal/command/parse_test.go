package command

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-voice/internal/device"
	"github.com/nerrad567/gray-logic-voice/internal/grammar"
)

// testDocument generates a document for lights in the kitchen and bedroom,
// blinds in the bedroom and heating in the hall.
func testDocument(t *testing.T) *grammar.Document {
	t.Helper()
	ctx := context.Background()
	reg := device.NewRegistry("home", device.NewMemoryRepository())

	mappings := []struct{ id, deviceType, location string }{
		{"light.kitchen", "lights", "kitchen"},
		{"light.bedroom", "lights", "bedroom"},
		{"cover.bedroom", "blinds", "bedroom"},
		{"climate.hall", "heating", "hall"},
	}
	for _, m := range mappings {
		area := m.location
		if _, err := reg.UpsertDevices(ctx, []device.Device{{ID: m.id, OriginalArea: &area}}, device.UpsertOptions{}); err != nil {
			t.Fatalf("UpsertDevices() error = %v", err)
		}
		if _, err := reg.Assign(ctx, m.id, device.Set(m.deviceType), device.Set(m.location)); err != nil {
			t.Fatalf("Assign() error = %v", err)
		}
		if _, err := reg.SetEnabled(ctx, m.id, true); err != nil {
			t.Fatalf("SetEnabled() error = %v", err)
		}
	}
	// A location with no devices at all.
	if _, err := reg.AddVocabulary(ctx, device.KindLocation, "garage"); err != nil {
		t.Fatalf("AddVocabulary() error = %v", err)
	}
	return grammar.Generate(reg.Snapshot(), grammar.DefaultProfiles())
}

func ptr(v float64) *float64 { return &v }

func TestParse_RoundTripEveryTriple(t *testing.T) {
	doc := testDocument(t)

	n := 0
	for deviceType, ts := range doc.Scope.Types {
		for _, location := range ts.Locations {
			for action, kind := range ts.Actions {
				cmd := Command{Action: action, DeviceType: deviceType, Location: location}
				switch kind {
				case grammar.ValuePercent:
					cmd.Value = ptr(40)
				case grammar.ValueTemperature, grammar.ValueNumber:
					cmd.Value = ptr(21.5)
				}

				got, err := Parse(Format(cmd), doc)
				if err != nil {
					t.Errorf("Parse(%s) error = %v", Format(cmd), err)
					continue
				}
				if got.Pair() != cmd.Pair() || got.Action != action || got.GrammarRevision != doc.Revision {
					t.Errorf("Parse(%s) = %+v", Format(cmd), got)
				}
				n++
			}
		}
	}
	if n == 0 {
		t.Fatal("document has no triples")
	}
}

func TestParse_RejectsCombinationsOutsideGrammar(t *testing.T) {
	doc := testDocument(t)

	tests := []struct {
		name      string
		cmd       Command
		wantField string
	}{
		{"unknown type", Command{Action: "on", DeviceType: "fans", Location: "kitchen"}, "device_type"},
		{"location without devices", Command{Action: "on", DeviceType: "lights", Location: "garage"}, "location"},
		{"unreachable pair", Command{Action: "open", DeviceType: "blinds", Location: "kitchen"}, "location"},
		{"action of another type", Command{Action: "open", DeviceType: "lights", Location: "kitchen"}, "action"},
		{"missing value", Command{Action: "set_percent", DeviceType: "lights", Location: "kitchen"}, "value"},
		{"unexpected value", Command{Action: "on", DeviceType: "lights", Location: "kitchen", Value: ptr(1)}, "value"},
		{"percent out of range", Command{Action: "set_percent", DeviceType: "blinds", Location: "bedroom", Value: ptr(140)}, "value"},
		{"fractional percent", Command{Action: "set_percent", DeviceType: "lights", Location: "kitchen", Value: ptr(12.5)}, "value"},
		{"negative percent", Command{Action: "set_percent", DeviceType: "blinds", Location: "bedroom", Value: ptr(-1)}, "value"},
		{"temperature three digits", Command{Action: "set_temperature", DeviceType: "heating", Location: "hall", Value: ptr(250)}, "value"},
		{"temperature two decimals", Command{Action: "set_temperature", DeviceType: "heating", Location: "hall", Value: ptr(21.25)}, "value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(Format(tt.cmd), doc)
			if !errors.Is(err, ErrGrammarViolation) {
				t.Fatalf("Parse() error = %v, want ErrGrammarViolation", err)
			}
			var ve *ViolationError
			if !errors.As(err, &ve) || ve.Field != tt.wantField {
				t.Errorf("ViolationError = %+v, want field %q", ve, tt.wantField)
			}
		})
	}
}

func TestParse_Extraction(t *testing.T) {
	doc := testDocument(t)

	tests := []struct {
		name string
		raw  string
	}{
		{"bare", `{"action":"on","device_type":"lights","location":"kitchen"}`},
		{"whitespace", "  {\n \"action\": \"on\",\n \"device_type\": \"lights\",\n \"location\": \"kitchen\"\n}\n"},
		{"code fence", "```json\n{\"action\": \"on\", \"device_type\": \"lights\", \"location\": \"kitchen\"}\n```"},
		{"prose", `Sure! {"action": "on", "device_type": "lights", "location": "kitchen"} Done.`},
		{"trailing comma", `{"action": "on", "device_type": "lights", "location": "kitchen",}`},
		{"truncated", `{"action": "on", "device_type": "lights", "location": "kitchen"`},
		{"brace in string", `{"action": "on", "device_type": "lights", "location": "kitchen", "note": "}"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Parse(tt.raw, doc)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if cmd.Pair() != (device.Pair{DeviceType: "lights", Location: "kitchen"}) || cmd.Action != "on" {
				t.Errorf("Parse() = %+v", cmd)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	doc := testDocument(t)

	for name, raw := range map[string]string{
		"empty":          "",
		"no object":      "turn on the kitchen lights",
		"missing field":  `{"action": "on", "device_type": "lights"}`,
		"empty field":    `{"action": "on", "device_type": "", "location": "kitchen"}`,
		"ill-typed":      `{"action": "on", "device_type": 5, "location": "kitchen"}`,
		"string value":   `{"action": "set_percent", "device_type": "lights", "location": "kitchen", "value": "high"}`,
		"missing action": `{"device_type": "lights", "location": "kitchen"}`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(raw, doc); !errors.Is(err, ErrMalformedOutput) {
				t.Errorf("Parse(%q) error = %v, want ErrMalformedOutput", raw, err)
			}
		})
	}
}

func TestParse_Noop(t *testing.T) {
	doc := testDocument(t)

	if _, err := Parse(`{"action": "unrecognized"}`, doc); !errors.Is(err, ErrUnrecognized) {
		t.Errorf("Parse(noop) error = %v, want ErrUnrecognized", err)
	}

	empty := grammar.Generate(device.NewRegistry("home", device.NewMemoryRepository()).Snapshot(), grammar.DefaultProfiles())
	if _, err := Parse(`{"action": "unrecognized"}`, empty); !errors.Is(err, ErrUnrecognized) {
		t.Errorf("Parse(noop, empty grammar) error = %v", err)
	}
	if _, err := Parse(`{"action": "on", "device_type": "lights", "location": "kitchen"}`, empty); !errors.Is(err, ErrGrammarViolation) {
		t.Errorf("Parse(command, empty grammar) error = %v, want ErrGrammarViolation", err)
	}
}

func TestCommand_String(t *testing.T) {
	c := Command{Action: "set_temperature", DeviceType: "heating", Location: "hall", Value: ptr(21.5)}
	if got, want := c.String(), "set_temperature heating@hall value=21.5"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
