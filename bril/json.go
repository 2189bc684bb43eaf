package bril

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedProgram is wrapped by every structural decoding or validation
// failure. Errors carry the function name and instruction index where known.
var ErrMalformedProgram = errors.New("malformed bril program")

// ParseProgram decodes a program from its JSON wire form.
func ParseProgram(data []byte) (*Program, error) {
	var p Program
	if err := json.Unmarshal(data, &p); err != nil {
		if errors.Is(err, ErrMalformedProgram) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedProgram, err)
	}
	return &p, nil
}

type wireProgram struct {
	Functions []*Function `json:"functions"`
}

type wireFunction struct {
	Name   string            `json:"name"`
	Args   []wireArg         `json:"args,omitempty"`
	Type   *Type             `json:"type,omitempty"`
	Instrs []json.RawMessage `json:"instrs"`
}

type wireArg struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
}

type wireInstr struct {
	Label  *string         `json:"label"`
	Op     string          `json:"op"`
	Dest   string          `json:"dest"`
	Type   *Type           `json:"type"`
	Value  json.RawMessage `json:"value"`
	Args   []string        `json:"args"`
	Funcs  []string        `json:"funcs"`
	Labels []string        `json:"labels"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Program) UnmarshalJSON(data []byte) error {
	var w wireProgram
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Functions = w.Functions
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p *Program) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireProgram{Functions: p.Functions})
}

// UnmarshalJSON implements json.Unmarshaler.
func (fn *Function) UnmarshalJSON(data []byte) error {
	var w wireFunction
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	fn.Name = w.Name
	fn.Args = fn.Args[:0]
	for _, a := range w.Args {
		fn.Args = append(fn.Args, Arg{Name: a.Name, Type: a.Type})
	}
	if w.Type != nil {
		fn.Type = *w.Type
	} else {
		fn.Type = Type{}
	}
	fn.Instrs = make([]Instruction, 0, len(w.Instrs))
	for i, raw := range w.Instrs {
		in, err := decodeInstruction(raw)
		if err != nil {
			return fmt.Errorf("%w: function @%s instr %d: %v", ErrMalformedProgram, fn.Name, i, err)
		}
		fn.Instrs = append(fn.Instrs, in)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (fn *Function) MarshalJSON() ([]byte, error) {
	w := wireFunction{Name: fn.Name}
	for _, a := range fn.Args {
		w.Args = append(w.Args, wireArg{Name: a.Name, Type: a.Type})
	}
	if fn.Type.Kind != TypeNone {
		t := fn.Type
		w.Type = &t
	}
	w.Instrs = make([]json.RawMessage, len(fn.Instrs))
	for i, in := range fn.Instrs {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		w.Instrs[i] = b
	}
	return json.Marshal(w)
}

func decodeInstruction(raw json.RawMessage) (Instruction, error) {
	var w wireInstr
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	if w.Label != nil {
		if *w.Label == "" {
			return nil, errors.New("empty label name")
		}
		return &Label{Name: *w.Label}, nil
	}
	if w.Op == "" {
		return nil, errors.New("instruction has neither label nor op")
	}
	if w.Op == "const" {
		if w.Dest == "" {
			return nil, errors.New("const without dest")
		}
		if w.Type == nil {
			return nil, errors.New("const without type")
		}
		val, err := decodeLiteral(w.Value)
		if err != nil {
			return nil, err
		}
		return &Const{Dest: w.Dest, Type: *w.Type, Value: val}, nil
	}
	op, ok := ParseOpcode(w.Op)
	if !ok {
		return nil, fmt.Errorf("unknown opcode %q", w.Op)
	}
	out := &Op{Opcode: op, Dest: w.Dest, Args: w.Args, Funcs: w.Funcs, Labels: w.Labels}
	if w.Type != nil {
		out.Type = *w.Type
	}
	return out, nil
}

func decodeLiteral(raw json.RawMessage) (Literal, error) {
	s := bytes.TrimSpace(raw)
	switch {
	case len(s) == 0:
		return Literal{}, errors.New("const without value")
	case bytes.Equal(s, []byte("true")):
		return BoolLit(true), nil
	case bytes.Equal(s, []byte("false")):
		return BoolLit(false), nil
	default:
		v, err := strconv.ParseInt(string(s), 10, 64)
		if err != nil {
			return Literal{}, fmt.Errorf("bad literal %s", s)
		}
		return IntLit(v), nil
	}
}

// MarshalJSON implements json.Marshaler.
func (l *Label) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Label string `json:"label"`
	}{l.Name})
}

// MarshalJSON implements json.Marshaler.
func (c *Const) MarshalJSON() ([]byte, error) {
	t := c.Type
	var value json.RawMessage
	if c.Value.Kind == LitBool {
		value = json.RawMessage(strconv.FormatBool(c.Value.Bool))
	} else {
		value = json.RawMessage(strconv.FormatInt(c.Value.Int, 10))
	}
	return json.Marshal(struct {
		Op    string          `json:"op"`
		Dest  string          `json:"dest"`
		Type  *Type           `json:"type"`
		Value json.RawMessage `json:"value"`
	}{"const", c.Dest, &t, value})
}

// MarshalJSON implements json.Marshaler.
func (o *Op) MarshalJSON() ([]byte, error) {
	w := struct {
		Op     string   `json:"op"`
		Dest   string   `json:"dest,omitempty"`
		Type   *Type    `json:"type,omitempty"`
		Args   []string `json:"args,omitempty"`
		Funcs  []string `json:"funcs,omitempty"`
		Labels []string `json:"labels,omitempty"`
	}{Op: o.Opcode.String(), Dest: o.Dest, Args: o.Args, Funcs: o.Funcs, Labels: o.Labels}
	if o.Dest != "" && o.Type.Kind != TypeNone {
		t := o.Type
		w.Type = &t
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler for the int/bool/ptr type forms.
func (t *Type) UnmarshalJSON(data []byte) error {
	s := bytes.TrimSpace(data)
	if len(s) > 0 && s[0] == '"' {
		var name string
		if err := json.Unmarshal(s, &name); err != nil {
			return err
		}
		switch name {
		case "int":
			*t = IntType
		case "bool":
			*t = BoolType
		default:
			return fmt.Errorf("%w: unknown type %q", ErrMalformedProgram, name)
		}
		return nil
	}
	var ptr struct {
		Ptr *Type `json:"ptr"`
	}
	if err := json.Unmarshal(s, &ptr); err != nil {
		return err
	}
	if ptr.Ptr == nil {
		return fmt.Errorf("%w: bad type %s", ErrMalformedProgram, s)
	}
	*t = Type{Kind: TypePtr, Elem: ptr.Ptr}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Type) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case TypeInt:
		return []byte(`"int"`), nil
	case TypeBool:
		return []byte(`"bool"`), nil
	case TypePtr:
		return json.Marshal(struct {
			Ptr *Type `json:"ptr"`
		}{t.Elem})
	default:
		return nil, fmt.Errorf("cannot encode void type")
	}
}
