package amf

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		vals []Value
	}{
		{"number", []Value{Number(123)}},
		{"negative fraction", []Value{Number(-0.5)}},
		{"booleans", []Value{Boolean(true), Boolean(false)}},
		{"string", []Value{String("connect")}},
		{"empty string", []Value{String("")}},
		{"null and undefined", []Value{Null{}, Undefined{}}},
		{"object", []Value{NewObject(
			Prop("app", String("kyu")),
			Prop("flashVer", String("FMLE/3.0")),
			Prop("audioCodecs", Number(3575)),
			Prop("fpad", Boolean(false)),
		)}},
		{"nested object", []Value{NewObject(
			Prop("outer", NewObject(Prop("inner", Number(1)))),
			Prop("after", Null{}),
		)}},
		{"ecma array", []Value{NewECMAArray(Prop("width", Number(1280)), Prop("height", Number(720)))}},
		{"strict array", []Value{StrictArray{Number(1), String("two"), Null{}}}},
		{"command sequence", []Value{
			String("_result"),
			Number(1),
			NewObject(Prop("fmsVer", String("FMS/3,5,3,888"))),
			NewObject(Prop("code", String("NetConnection.Connect.Success"))),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Encode(tc.vals...)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(got, tc.vals) {
				t.Fatalf("Decode(Encode(v)) = %#v, want %#v", got, tc.vals)
			}
		})
	}
}

func TestEncodeKnownBytes(t *testing.T) {
	b, err := Encode(Number(1), Boolean(true), String("ab"), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x00, 0x3f, 0xf0, 0, 0, 0, 0, 0, 0,
		0x01, 0x01,
		0x02, 0x00, 0x02, 'a', 'b',
		0x05,
	}
	if !bytes.Equal(b, want) {
		t.Fatalf("Encode = % x, want % x", b, want)
	}
}

func TestObjectPreservesInsertionOrder(t *testing.T) {
	keys := []string{"zeta", "alpha", "mid", "beta"}
	o := &Object{}
	for i, k := range keys {
		o.Set(k, Number(i))
	}
	b, err := Encode(o)
	if err != nil {
		t.Fatal(err)
	}
	vals, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	got := vals[0].(*Object).Properties()
	for i, p := range got {
		if p.Key != keys[i] {
			t.Fatalf("key %d = %q, want %q", i, p.Key, keys[i])
		}
	}
}

func TestObjectSetOverwritesInPlace(t *testing.T) {
	o := NewObject(Prop("a", Number(1)), Prop("b", Number(2)))
	o.Set("a", Number(3))
	if o.Len() != 2 {
		t.Fatalf("Len = %d, want 2", o.Len())
	}
	if v, _ := o.Get("a"); v != Number(3) {
		t.Fatalf("a = %v, want 3", v)
	}
	if o.Properties()[0].Key != "a" {
		t.Fatalf("overwrite moved key a")
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want error
	}{
		{"unknown marker", []byte{0x0d}, ErrUnknownMarker},
		{"short number", []byte{0x00, 0x01, 0x02}, ErrTruncated},
		{"short string", []byte{0x02, 0x00, 0x05, 'a'}, ErrTruncated},
		{"missing boolean", []byte{0x01}, ErrTruncated},
		{"unterminated object", []byte{0x03, 0x00, 0x01, 'a', 0x05}, ErrTruncated},
		{"object missing end marker", []byte{0x03, 0x00, 0x00}, ErrTruncated},
		{"strict array too long", []byte{0x0a, 0xff, 0xff, 0xff, 0xff}, ErrTruncated},
		{"arrays nested too deep", nestedArrays(MaxDepth + 1), ErrTooDeep},
		{"objects nested too deep", nestedObjects(MaxDepth + 1), ErrTooDeep},
		{"deep nesting in a huge message", nestedArrays(0xFFFFFF / 5), ErrTooDeep},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Decode error = %v, want %v", err, tc.want)
			}
			if !errors.Is(err, ErrDecode) {
				t.Fatalf("Decode error %v is not ErrDecode", err)
			}
		})
	}
}

func TestTypeOfUsesTag(t *testing.T) {
	vals := []Value{Number(0), Boolean(false), String("0"), NewObject(), NewECMAArray(), Null{}, Undefined{}, nil}
	want := []Kind{KindNumber, KindBoolean, KindString, KindObject, KindECMAArray, KindNull, KindUndefined, KindNull}
	for i, v := range vals {
		if got := TypeOf(v); got != want[i] {
			t.Errorf("TypeOf(%#v) = %v, want %v", v, got, want[i])
		}
	}
}

func TestFirstOf(t *testing.T) {
	vals := []Value{Number(2), Null{}, String("publish"), String("later")}
	v, ok := FirstOf(vals, KindString)
	if !ok || v != String("publish") {
		t.Fatalf("FirstOf string = %v, %v", v, ok)
	}
	if _, ok := FirstOf(vals, KindBoolean); ok {
		t.Fatalf("FirstOf boolean found a value")
	}
}

func TestMapAndClone(t *testing.T) {
	o := NewObject(Prop("width", Number(1920)), Prop("nested", NewObject(Prop("x", Boolean(true)))))
	m := o.Map()
	if m["width"] != float64(1920) {
		t.Fatalf("width = %v", m["width"])
	}
	if nested, ok := m["nested"].(map[string]interface{}); !ok || nested["x"] != true {
		t.Fatalf("nested = %#v", m["nested"])
	}

	c := o.Clone()
	c.Set("width", Number(1))
	if v, _ := o.Get("width"); v != Number(1920) {
		t.Fatalf("Clone shares storage with its source")
	}
}

// nestedArrays builds depth one-element strict arrays wrapped around a Null.
func nestedArrays(depth int) []byte {
	b := make([]byte, 0, depth*5+1)
	for i := 0; i < depth; i++ {
		b = append(b, 0x0a, 0x00, 0x00, 0x00, 0x01)
	}
	return append(b, 0x05)
}

// nestedObjects builds depth objects, each holding the next under key "a".
func nestedObjects(depth int) []byte {
	var b []byte
	for i := 0; i < depth; i++ {
		b = append(b, 0x03, 0x00, 0x01, 'a')
	}
	b = append(b, 0x05)
	for i := 0; i < depth; i++ {
		b = append(b, 0x00, 0x00, 0x09)
	}
	return b
}

func TestDecodeAtMaxDepth(t *testing.T) {
	vals, err := Decode(nestedArrays(MaxDepth))
	if err != nil {
		t.Fatalf("Decode at depth %d: %v", MaxDepth, err)
	}
	v := vals[0]
	for i := 0; i < MaxDepth; i++ {
		arr, ok := v.(StrictArray)
		if !ok || len(arr) != 1 {
			t.Fatalf("level %d = %#v", i, v)
		}
		v = arr[0]
	}
	if v != (Null{}) {
		t.Fatalf("innermost = %#v, want Null", v)
	}

	// siblings do not add depth
	b := append(nestedObjects(MaxDepth), nestedObjects(MaxDepth)...)
	if vals, err := Decode(b); err != nil || len(vals) != 2 {
		t.Fatalf("two values at max depth = %d, %v", len(vals), err)
	}
}
