package proxy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

const maxSketchString = 48

// SketchMessage renders a shallow summary of a raw protobuf payload without
// a schema: top-level field numbers mapped to their wire values. Nested
// messages are not descended into; length-delimited fields render as text
// when printable and as an opaque byte count otherwise. Payloads that do not
// parse as protobuf come back as a single opaque marker.
func SketchMessage(data []byte) string {
	if len(data) == 0 {
		return "{}"
	}

	values := make(map[protowire.Number][]string)
	var order []protowire.Number

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return opaqueSketch(data)
		}
		b = b[n:]

		var rendered string
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return opaqueSketch(data)
			}
			b = b[m:]
			rendered = strconv.FormatUint(v, 10)
		case protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return opaqueSketch(data)
			}
			b = b[m:]
			rendered = strconv.FormatUint(uint64(v), 10)
		case protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return opaqueSketch(data)
			}
			b = b[m:]
			rendered = strconv.FormatUint(v, 10)
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return opaqueSketch(data)
			}
			b = b[m:]
			rendered = renderBytes(v)
		case protowire.StartGroupType:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return opaqueSketch(data)
			}
			b = b[m:]
			rendered = "group"
		default:
			return opaqueSketch(data)
		}

		if _, seen := values[num]; !seen {
			order = append(order, num)
		}
		values[num] = append(values[num], rendered)
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var sb strings.Builder
	sb.WriteByte('{')
	for i, num := range order {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Itoa(int(num)))
		sb.WriteString(": ")
		vs := values[num]
		if len(vs) == 1 {
			sb.WriteString(vs[0])
		} else {
			sb.WriteByte('[')
			sb.WriteString(strings.Join(vs, ", "))
			sb.WriteByte(']')
		}
	}
	sb.WriteByte('}')
	return sb.String()
}

func opaqueSketch(data []byte) string {
	return fmt.Sprintf("opaque(%d bytes)", len(data))
}

// renderBytes shows length-delimited fields as quoted text when they look
// like text, truncated to keep event payloads small.
func renderBytes(v []byte) string {
	if len(v) == 0 {
		return `""`
	}
	if !printableText(v) {
		return fmt.Sprintf("bytes(%d)", len(v))
	}
	s := string(v)
	if len(s) > maxSketchString {
		cut := maxSketchString
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return strconv.Quote(s[:cut] + "...")
	}
	return strconv.Quote(s)
}

func printableText(v []byte) bool {
	if !utf8.Valid(v) {
		return false
	}
	for _, r := range string(v) {
		if r == '\n' || r == '\t' || r == '\r' {
			continue
		}
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
