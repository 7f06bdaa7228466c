package amf

import "fmt"

// Kind identifies the wire marker a Value was decoded from (or will be encoded as)
type Kind uint8

// AMF0 type markers
const (
	KindNumber      Kind = 0x00
	KindBoolean     Kind = 0x01
	KindString      Kind = 0x02
	KindObject      Kind = 0x03
	KindNull        Kind = 0x05
	KindUndefined   Kind = 0x06
	KindECMAArray   Kind = 0x08
	KindObjectEnd   Kind = 0x09
	KindStrictArray Kind = 0x0A
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindNull:
		return "null"
	case KindUndefined:
		return "undefined"
	case KindECMAArray:
		return "ecma-array"
	case KindObjectEnd:
		return "object-end"
	case KindStrictArray:
		return "strict-array"
	default:
		return fmt.Sprintf("kind(%#x)", uint8(k))
	}
}

// Value is one decoded AMF0 value. The concrete Go type carries the wire tag,
// so classification never depends on guessing from native representations.
type Value interface {
	Kind() Kind
}

type (
	Number      float64
	Boolean     bool
	String      string
	Null        struct{}
	Undefined   struct{}
	StrictArray []Value
)

func (Number) Kind() Kind      { return KindNumber }
func (Boolean) Kind() Kind     { return KindBoolean }
func (String) Kind() Kind      { return KindString }
func (Null) Kind() Kind        { return KindNull }
func (Undefined) Kind() Kind   { return KindUndefined }
func (StrictArray) Kind() Kind { return KindStrictArray }

// TypeOf classifies a decoded value by its tag. A nil Value is treated as Null.
func TypeOf(v Value) Kind {
	if v == nil {
		return KindNull
	}
	return v.Kind()
}

// Property is a single key/value pair of an Object.
type Property struct {
	Key   string
	Value Value
}

// Object is an AMF0 anonymous object (or ECMA array) preserving insertion order.
type Object struct {
	props []Property
	ecma  bool
}

// Prop is shorthand for a Property literal.
func Prop(key string, v Value) Property {
	return Property{Key: key, Value: v}
}

// NewObject builds an object from properties; later duplicates overwrite earlier ones.
func NewObject(props ...Property) *Object {
	o := &Object{}
	for _, p := range props {
		o.Set(p.Key, p.Value)
	}
	return o
}

// NewECMAArray builds an object that is encoded with the ECMA array marker.
func NewECMAArray(props ...Property) *Object {
	o := NewObject(props...)
	o.ecma = true
	return o
}

func (o *Object) Kind() Kind {
	if o.ecma {
		return KindECMAArray
	}
	return KindObject
}

// Set replaces the value of an existing key in place or appends a new property.
func (o *Object) Set(key string, v Value) {
	for i := range o.props {
		if o.props[i].Key == key {
			o.props[i].Value = v
			return
		}
	}
	o.props = append(o.props, Property{Key: key, Value: v})
}

func (o *Object) Get(key string) (Value, bool) {
	for _, p := range o.props {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// GetString returns the string under key, if present and tagged as a string.
func (o *Object) GetString(key string) (string, bool) {
	v, ok := o.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(String)
	return string(s), ok
}

func (o *Object) Len() int { return len(o.props) }

// Properties returns a copy of the properties in insertion order.
func (o *Object) Properties() []Property {
	out := make([]Property, len(o.props))
	copy(out, o.props)
	return out
}

// Clone returns a deep copy of the object.
func (o *Object) Clone() *Object {
	c := &Object{props: make([]Property, len(o.props)), ecma: o.ecma}
	for i, p := range o.props {
		c.props[i] = Property{Key: p.Key, Value: cloneValue(p.Value)}
	}
	return c
}

// Map converts the object to plain Go values, suitable for mapstructure.
func (o *Object) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(o.props))
	for _, p := range o.props {
		m[p.Key] = Native(p.Value)
	}
	return m
}

// Native converts a Value to the plain Go value it represents.
func Native(v Value) interface{} {
	switch x := v.(type) {
	case Number:
		return float64(x)
	case Boolean:
		return bool(x)
	case String:
		return string(x)
	case *Object:
		return x.Map()
	case StrictArray:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = Native(e)
		}
		return out
	default:
		return nil
	}
}

func cloneValue(v Value) Value {
	switch x := v.(type) {
	case *Object:
		return x.Clone()
	case StrictArray:
		out := make(StrictArray, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// FirstOf returns the first value in vals whose tag is kind.
func FirstOf(vals []Value, kind Kind) (Value, bool) {
	for _, v := range vals {
		if TypeOf(v) == kind {
			return v, true
		}
	}
	return nil, false
}
