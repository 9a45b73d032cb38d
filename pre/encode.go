package pre

import "encoding/binary"

func u32(v uint32) []byte { return binary.NativeEndian.AppendUint32(nil, v) }

func u16(v uint16) []byte { return binary.NativeEndian.AppendUint16(nil, v) }

func boolByte(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}
