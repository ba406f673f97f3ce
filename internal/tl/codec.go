package tl

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// TypeField is the JSON key holding an object's discriminator.
const TypeField = "_"

// UnknownTypeError is returned when the discriminator names no known type.
type UnknownTypeError struct {
	Name string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown type %q", e.Name)
}

var registry = map[string]func([]byte) (Object, error){}

func register[T Object](zero T) {
	registry[zero.TypeName()] = func(data []byte) (Object, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", zero.TypeName(), err)
		}
		return v, nil
	}
}

func init() {
	register(UpdateNewMessage{})
	register(UpdateNewChannelMessage{})
	register(UpdateEditMessage{})
	register(UpdateEditChannelMessage{})
	register(UpdateDeleteMessages{})
	register(UpdateDeleteChannelMessages{})
	register(UpdatePinnedMessages{})
	register(UpdateChannelTooLong{})
	register(UpdateBotStopped{})
	register(UpdateConfig{})
	register(UpdateDcOptions{})
	register(UpdateUserName{})
	register(UpdateUserTyping{})
	register(UpdateChannel{})

	register(UpdatesEmpty{})
	register(UpdatesTooLong{})
	register(Updates{})
	register(UpdatesCombined{})
	register(UpdateShort{})
	register(UpdateShortMessage{})
	register(UpdateShortChatMessage{})
	register(UpdateShortSentMessage{})

	register(DifferenceEmpty{})
	register(Difference{})
	register(DifferenceSlice{})
	register(DifferenceTooLong{})
	register(ChannelDifferenceEmpty{})
	register(ChannelDifference{})
	register(ChannelDifferenceTooLong{})

	register(UpdatesState{})
	register(Config{})
}

// Marshal encodes an object with its discriminator as the first key.
func Marshal(o Object) ([]byte, error) {
	if o == nil {
		return nil, fmt.Errorf("marshal: nil object")
	}
	body, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", o.TypeName(), err)
	}
	tag, err := json.Marshal(o.TypeName())
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+len(tag)+8)
	out = append(out, `{"_":`...)
	out = append(out, tag...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

// Decode reads the discriminator and decodes into the matching type.
func Decode(data []byte) (Object, error) {
	name := gjson.GetBytes(data, TypeField)
	if !name.Exists() {
		return nil, fmt.Errorf("decode: missing %q discriminator", TypeField)
	}
	dec, ok := registry[name.Str]
	if !ok {
		return nil, &UnknownTypeError{Name: name.Str}
	}
	return dec(data)
}

func decodeAs[T any](data []byte, what string) (T, error) {
	var zero T
	obj, err := Decode(data)
	if err != nil {
		return zero, err
	}
	v, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("decode: %s is not %s", obj.TypeName(), what)
	}
	return v, nil
}

// DecodeEnvelope decodes a push envelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	return decodeAs[Envelope](data, "an envelope")
}

// DecodeUpdate decodes a single update.
func DecodeUpdate(data []byte) (Update, error) {
	return decodeAs[Update](data, "an update")
}

// DecodeDifference decodes a common difference page.
func DecodeDifference(data []byte) (DifferenceResult, error) {
	return decodeAs[DifferenceResult](data, "a difference")
}

// DecodeChannelDifference decodes a channel difference page.
func DecodeChannelDifference(data []byte) (ChannelDifferenceResult, error) {
	return decodeAs[ChannelDifferenceResult](data, "a channel difference")
}

// DecodeState decodes an updates.state object.
func DecodeState(data []byte) (UpdatesState, error) {
	return decodeAs[UpdatesState](data, "an updates state")
}

// DecodeConfig decodes a config object.
func DecodeConfig(data []byte) (Config, error) {
	return decodeAs[Config](data, "a config")
}

func (l UpdateList) MarshalJSON() ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(l))
	for i, u := range l {
		raw, err := Marshal(u)
		if err != nil {
			return nil, fmt.Errorf("updates[%d]: %w", i, err)
		}
		raws = append(raws, raw)
	}
	return json.Marshal(raws)
}

func (l *UpdateList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(UpdateList, 0, len(raws))
	for i, raw := range raws {
		u, err := DecodeUpdate(raw)
		if err != nil {
			return fmt.Errorf("updates[%d]: %w", i, err)
		}
		out = append(out, u)
	}
	*l = out
	return nil
}

type updateShortWire struct {
	Update json.RawMessage `json:"update"`
	Date   int64           `json:"date"`
}

func (s UpdateShort) MarshalJSON() ([]byte, error) {
	inner, err := Marshal(s.Update)
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	return json.Marshal(updateShortWire{Update: inner, Date: s.Date})
}

func (s *UpdateShort) UnmarshalJSON(data []byte) error {
	var w updateShortWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	u, err := DecodeUpdate(w.Update)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	s.Update = u
	s.Date = w.Date
	return nil
}
