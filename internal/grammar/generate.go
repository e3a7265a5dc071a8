package grammar

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nerrad567/gray-logic-voice/internal/device"
)

// NoopAction is the action of the sentence every grammar accepts.
const NoopAction = "unrecognized"

// Value rules, emitted only when an action of that kind is in scope.
var valueRules = map[ValueKind]string{
	ValuePercent:     `percent ::= "100" | [1-9] [0-9] | [0-9]`,
	ValueTemperature: `temperature ::= "-"? [0-9] [0-9]? ("." [0-9])?`,
	ValueNumber:      `number ::= "-"? [0-9]+ ("." [0-9]+)?`,
}

// Generate builds the grammar document for a registry snapshot.
//
// Only eligible devices contribute (see device.Snapshot.Eligible). The
// result depends on nothing but its inputs: two calls with the same
// snapshot and profiles return identical documents.
func Generate(snap *device.Snapshot, profiles Profiles) *Document {
	eligible := snap.Eligible()

	locsByType := make(map[string]map[string]bool)
	allLocs := make(map[string]bool)
	for _, d := range eligible {
		p, _ := d.Pair()
		if locsByType[p.DeviceType] == nil {
			locsByType[p.DeviceType] = make(map[string]bool)
		}
		locsByType[p.DeviceType][p.Location] = true
		allLocs[p.Location] = true
	}

	types := make([]string, 0, len(locsByType))
	for t := range locsByType {
		types = append(types, t)
	}
	sort.Strings(types)

	doc := &Document{
		Backend:  snap.Backend(),
		Revision: snap.Revision(),
		Scope:    Scope{Types: make(map[string]TypeScope, len(types))},
		Counts: Counts{
			Devices:     len(eligible),
			DeviceTypes: len(types),
			Locations:   len(allLocs),
		},
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# backend %s, registry revision %d\n", snap.Backend(), snap.Revision())
	if len(types) == 0 {
		b.WriteString("# no eligible devices\n")
		b.WriteString("root ::= noop\n")
	} else {
		b.WriteString("root ::= command | noop\n")
		names := make([]string, len(types))
		for i := range types {
			names[i] = fmt.Sprintf("t%d", i)
		}
		fmt.Fprintf(&b, "command ::= %s\n", strings.Join(names, " | "))
	}

	usedKinds := make(map[ValueKind]bool)
	for i, t := range types {
		locs := sortedSet(locsByType[t])
		actions := profiles.For(t)

		ts := TypeScope{Locations: locs, Actions: make(map[string]ValueKind, len(actions))}
		byKind := make(map[ValueKind][]string)
		for _, a := range actions {
			kind := a.Value
			if kind == "" {
				kind = ValueNone
			}
			if _, dup := ts.Actions[a.Name]; dup {
				continue
			}
			ts.Actions[a.Name] = kind
			byKind[kind] = append(byKind[kind], a.Name)
		}
		doc.Scope.Types[t] = ts

		writeTypeRules(&b, i, t, locs, byKind)
		for kind := range byKind {
			usedKinds[kind] = true
		}
	}

	b.WriteString("noop ::= \"{\" ws " + field("action") + " ws \":\" ws " + terminal(NoopAction) + " ws \"}\"\n")
	for _, kind := range valueKinds {
		if rule, ok := valueRules[kind]; ok && usedKinds[kind] {
			b.WriteString(rule + "\n")
		}
	}
	b.WriteString("ws ::= [ \\t\\n]*\n")

	doc.Text = b.String()
	doc.Hash = hashInput(eligible, types, doc.Scope)
	return doc
}

// writeTypeRules emits the sentence rules of one device type: one variant
// per value kind its actions use, sharing a location alternation.
func writeTypeRules(b *strings.Builder, idx int, deviceType string, locs []string, byKind map[ValueKind][]string) {
	prefix := fmt.Sprintf("t%d", idx)
	fmt.Fprintf(b, "# %s\n", deviceType)

	var variants []string
	for _, kind := range valueKinds {
		if len(byKind[kind]) > 0 {
			variants = append(variants, prefix+"-"+string(kind))
		}
	}
	fmt.Fprintf(b, "%s ::= %s\n", prefix, strings.Join(variants, " | "))

	locTerms := make([]string, len(locs))
	for i, l := range locs {
		locTerms[i] = terminal(l)
	}
	fmt.Fprintf(b, "%s-loc ::= %s\n", prefix, strings.Join(locTerms, " | "))

	for _, kind := range valueKinds {
		names := byKind[kind]
		if len(names) == 0 {
			continue
		}
		actTerms := make([]string, len(names))
		for i, n := range names {
			actTerms[i] = terminal(n)
		}

		fmt.Fprintf(b, "%s-%s ::= \"{\" ws %s ws \":\" ws (%s) ws \",\" ws %s ws \":\" ws %s ws \",\" ws %s ws \":\" ws %s-loc",
			prefix, kind,
			field("action"), strings.Join(actTerms, " | "),
			field("device_type"), terminal(deviceType),
			field("location"), prefix,
		)
		if kind != ValueNone {
			fmt.Fprintf(b, " ws \",\" ws %s ws \":\" ws %s", field("value"), kind)
		}
		b.WriteString(" ws \"}\"\n")
	}
}

// terminal renders s as a GBNF literal matching its JSON string encoding.
func terminal(s string) string {
	return quote(jsonString(s))
}

// field renders a JSON object key literal.
func field(name string) string {
	return quote(`"` + name + `"`)
}

func quote(lit string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(lit) + `"`
}

func jsonString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s) //nolint:errcheck // strings always encode
	return strings.TrimSuffix(buf.String(), "\n")
}

// hashInput fingerprints the eligible device set and the actions in scope.
func hashInput(eligible []device.Device, types []string, scope Scope) string {
	h := sha256.New()
	for _, d := range eligible {
		p, _ := d.Pair()
		fmt.Fprintf(h, "d|%s|%s|%s\n", d.ID, p.DeviceType, p.Location)
	}
	for _, t := range types {
		actions := scope.Types[t].Actions
		names := make([]string, 0, len(actions))
		for n := range actions {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintf(h, "a|%s|%s|%s\n", t, n, actions[n])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
