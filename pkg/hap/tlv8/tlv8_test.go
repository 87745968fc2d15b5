package tlv8

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshal(t *testing.T) {
	type Struct struct {
		Byte    byte    `tlv8:"1"`
		Uint16  uint16  `tlv8:"2"`
		Uint32  uint32  `tlv8:"3"`
		Float32 float32 `tlv8:"4"`
		String  string  `tlv8:"5"`
		Slice   []byte  `tlv8:"6"`
		Array   [4]byte `tlv8:"7"`
	}

	src := Struct{
		Byte:    1,
		Uint16:  2,
		Uint32:  3,
		Float32: 1.23,
		String:  "123",
		Slice:   []byte{1, 2, 3},
		Array:   [4]byte{1, 2, 3, 4},
	}

	b, err := Marshal(src)
	require.Nil(t, err)

	var dst Struct
	err = Unmarshal(b, &dst)
	require.Nil(t, err)

	require.Equal(t, src, dst)
}

func TestBytes(t *testing.T) {
	bytes := make([]byte, 255)
	for i := 0; i < len(bytes); i++ {
		bytes[i] = byte(i)
	}

	type Struct struct {
		String string `tlv8:"1"`
	}
	src := Struct{
		String: string(bytes),
	}

	b, err := Marshal(src)
	require.Nil(t, err)

	var dst Struct
	err = Unmarshal(b, &dst)
	require.Nil(t, err)

	require.Equal(t, src, dst)
	require.Equal(t, bytes, []byte(dst.String))
}

// SRP public values are 384 bytes, chunked into 255-byte continuation items
func TestBigPayload(t *testing.T) {
	type Struct struct {
		PublicKey []byte `tlv8:"3"`
		State     byte   `tlv8:"6"`
	}

	src := Struct{
		PublicKey: bytes.Repeat([]byte{0xAB}, 384),
		State:     2,
	}

	b, err := Marshal(src)
	require.Nil(t, err)

	// 3,255,<255 bytes> + 3,129,<129 bytes> + 6,1,2
	require.Equal(t, 2+255+2+129+3, len(b))
	require.Equal(t, byte(3), b[0])
	require.Equal(t, byte(255), b[1])
	require.Equal(t, byte(3), b[257])
	require.Equal(t, byte(129), b[258])

	var dst Struct
	err = Unmarshal(b, &dst)
	require.Nil(t, err)

	require.Equal(t, src, dst)
}

func TestUnknownTag(t *testing.T) {
	src := struct {
		Method byte   `tlv8:"0"`
		State  byte   `tlv8:"6"`
		Flags  uint32 `tlv8:"19"`
	}{
		State: 1,
		Flags: 0x10,
	}

	b, err := Marshal(src)
	require.Nil(t, err)

	// reader without the flags field just skips tag 19
	var dst struct {
		Method byte `tlv8:"0"`
		State  byte `tlv8:"6"`
	}
	err = Unmarshal(b, &dst)
	require.Nil(t, err)

	require.Equal(t, byte(1), dst.State)
}

func TestEmptySkipped(t *testing.T) {
	src := struct {
		Identifier string `tlv8:"1"`
		PublicKey  []byte `tlv8:"3"`
		State      byte   `tlv8:"6"`
	}{
		State: 1,
	}

	b, err := Marshal(src)
	require.Nil(t, err)
	require.Equal(t, []byte{6, 1, 1}, b)
}

func TestStructSlice(t *testing.T) {
	type Pairing struct {
		Identifier string `tlv8:"1"`
		PublicKey  []byte `tlv8:"3"`
		Permission byte   `tlv8:"11"`
	}
	type Struct struct {
		State byte      `tlv8:"6"`
		Items []Pairing `tlv8:"1"`
	}

	src := Struct{
		State: 2,
		Items: []Pairing{
			{Identifier: "a", PublicKey: []byte{1}, Permission: 1},
			{Identifier: "b", PublicKey: []byte{2}},
		},
	}

	b, err := Marshal(src)
	require.Nil(t, err)

	var dst Struct
	err = Unmarshal(b, &dst)
	require.Nil(t, err)

	require.Equal(t, src.State, dst.State)
	require.Len(t, dst.Items, 2)
}

func TestInterface(t *testing.T) {
	type Struct struct {
		Byte byte `tlv8:"1"`
	}

	src := Struct{
		Byte: 1,
	}
	var v1 any = &src

	b, err := Marshal(v1)
	require.Nil(t, err)

	require.Equal(t, []byte{1, 1, 1}, b)

	var dst Struct
	var v2 any = &dst

	err = Unmarshal(b, v2)
	require.Nil(t, err)

	require.Equal(t, src, dst)
}
