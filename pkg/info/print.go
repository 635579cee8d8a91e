package info

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

const printLabel = "CoSimIO-Info"

// Print writes the human-readable listing of the Info followed by a blank
// line:
//
//	CoSimIO-Info; containing 2 entries
//	  name: echo_level | value: 1 | type: int
//	  name: sub | type: CoSimIO-Info; containing 1 entries
//	    name: tol | value: 0.008 | type: double
func (in *Info) Print(w io.Writer) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s; containing %d entries\n", printLabel, in.Size())
	in.printEntries(&buf, 1)
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func (in *Info) String() string {
	var sb strings.Builder
	_ = in.Print(&sb)
	return sb.String()
}

func (in *Info) printEntries(buf *bytes.Buffer, depth int) {
	if in == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	for _, key := range in.keys {
		e := in.entries[key]
		if e.kind == KindInfo {
			sub := e.val.(*Info)
			fmt.Fprintf(buf, "%sname: %s | type: %s; containing %d entries\n", indent, key, printLabel, sub.Size())
			sub.printEntries(buf, depth+1)
			continue
		}
		fmt.Fprintf(buf, "%sname: %s | value: %s | type: %s\n", indent, key, formatValue(e.val), e.kind)
	}
}

func formatValue(val any) string {
	switch typed := val.(type) {
	case int:
		return strconv.Itoa(typed)
	case float64:
		return strconv.FormatFloat(typed, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	case string:
		return typed
	case []int:
		parts := make([]string, len(typed))
		for i, v := range typed {
			parts[i] = strconv.Itoa(v)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(val)
	}
}

// LogValue renders the Info as a slog group.
func (in *Info) LogValue() slog.Value {
	if in == nil {
		return slog.GroupValue()
	}
	attrs := make([]slog.Attr, 0, len(in.keys))
	for _, key := range in.keys {
		e := in.entries[key]
		switch typed := e.val.(type) {
		case *Info:
			attrs = append(attrs, slog.Any(key, typed))
		case []int:
			attrs = append(attrs, slog.String(key, formatValue(typed)))
		default:
			attrs = append(attrs, slog.Any(key, typed))
		}
	}
	return slog.GroupValue(attrs...)
}
